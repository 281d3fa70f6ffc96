//go:build mage
// +build mage

package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName  = "api_server"
	mainPackage = "./cmd/api_server"
	composeFile = "docker-compose.dev.yml"
	projectName = "user-data-api-dev"
	reportsDir  = "./reports"
)

// Default 默认任务：显示帮助信息
func Default() {
	fmt.Println("User Data API 构建系统")
	fmt.Println("======================")
	fmt.Println("可用任务:")
	fmt.Println("  mage build           - 构建 api_server")
	fmt.Println("  mage run             - 以开发模式启动服务")
	fmt.Println("  mage test            - 运行单元测试和集成测试")
	fmt.Println("  mage testUnit        - 运行单元测试")
	fmt.Println("  mage testIntegration - 运行集成测试 (需要 Redis / PostgreSQL)")
	fmt.Println("  mage docker:env      - 启动依赖环境 (Redis + PostgreSQL + InfluxDB)")
	fmt.Println("  mage docker:down     - 停止依赖环境")
	fmt.Println("  mage clean           - 清理构建产物")
	fmt.Println("  mage lint            - 运行代码检查")
	fmt.Println("  mage coverage        - 生成测试覆盖率报告")
}

// Build 构建 api_server，版本信息通过 ldflags 注入
func Build() error {
	mg.Deps(Clean)

	output := filepath.Join("./dist", binaryName)
	if runtime.GOOS == "windows" {
		output += ".exe"
	}

	ldflags := fmt.Sprintf("-s -w -X main.version=%s -X main.commit=%s -X main.buildTime=%s",
		gitVersion(), gitCommit(), time.Now().UTC().Format(time.RFC3339))

	fmt.Printf("📦 构建 %s...\n", binaryName)
	cmd := exec.Command("go", "build", "-ldflags", ldflags, "-o", output, mainPackage)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("构建 %s 失败: %v\n输出: %s", binaryName, err, string(out))
	}

	if info, err := os.Stat(output); err == nil {
		fmt.Printf("   ✅ %s: %d MB\n", binaryName, info.Size()/1024/1024)
	}
	return nil
}

// Run 以开发模式启动服务
func Run() error {
	env := map[string]string{
		"USER_API_SERVER_MODE":  "debug",
		"USER_API_LOGGER_LEVEL": "debug",
	}
	return sh.RunWithV(env, "go", "run", mainPackage, "serve")
}

// Test 运行所有测试
func Test() error {
	mg.SerialDeps(TestUnit, TestIntegration)
	return nil
}

// TestUnit 运行单元测试
func TestUnit() error {
	fmt.Println("🧪 运行单元测试...")

	cmd := exec.Command("go", "test", "-race", "-timeout=5m", "./...")
	cmd.Env = os.Environ()

	output, err := cmd.CombinedOutput()
	if err != nil {
		fmt.Printf("单元测试失败输出:\n%s\n", string(output))
		return fmt.Errorf("单元测试失败: %v", err)
	}

	fmt.Println("✅ 单元测试通过!")
	return nil
}

// TestIntegration 运行集成测试，服务不可用的用例会自动跳过
func TestIntegration() error {
	fmt.Println("🔗 运行集成测试...")

	if !isRedisRunning() {
		fmt.Println("⚠️  Redis 未运行，相关集成测试将被跳过")
	}
	if os.Getenv("DATABASE_URL") == "" {
		fmt.Println("⚠️  未设置 DATABASE_URL，PostgreSQL 集成测试将被跳过")
	}

	cmd := exec.Command("go", "test", "-v", "-tags=integration", "-timeout=10m", "./pkg/...")
	cmd.Env = os.Environ()

	if output, err := cmd.CombinedOutput(); err != nil {
		fmt.Printf("集成测试失败输出:\n%s\n", string(output))
		return fmt.Errorf("集成测试失败: %v", err)
	}

	fmt.Println("✅ 集成测试通过!")
	return nil
}

type Docker mg.Namespace

// Env 启动依赖环境 (redis, postgres, influxdb)
func (Docker) Env() error {
	fmt.Println("🚀 启动依赖环境...")
	return sh.RunV("docker", "compose", "-f", composeFile, "-p", projectName, "up", "-d", "redis", "postgres", "influxdb")
}

// Down 停止依赖环境
func (Docker) Down() error {
	fmt.Println("🛑 停止依赖环境...")
	return sh.RunV("docker", "compose", "-f", composeFile, "-p", projectName, "down")
}

// Status 查看依赖环境状态
func (Docker) Status() error {
	return sh.RunV("docker", "compose", "-f", composeFile, "-p", projectName, "ps")
}

// Clean 清理构建产物
func Clean() error {
	fmt.Println("🧹 清理构建产物...")

	if err := os.MkdirAll("./dist", 0755); err != nil {
		return fmt.Errorf("创建 dist 目录失败: %v", err)
	}

	files, err := filepath.Glob("./dist/*")
	if err != nil {
		return fmt.Errorf("查找文件失败: %v", err)
	}
	for _, file := range files {
		if err := os.Remove(file); err != nil {
			fmt.Printf("警告: 无法删除文件 %s: %v\n", file, err)
		}
	}

	if err := os.RemoveAll(reportsDir); err != nil {
		fmt.Printf("警告: 清理报告目录失败: %v\n", err)
	}

	fmt.Println("✅ 清理完成!")
	return nil
}

// Lint 检查格式并运行 go vet
func Lint() error {
	fmt.Println("🔍 运行代码检查...")

	out, err := sh.Output("gofmt", "-l", "cmd", "pkg")
	if err != nil {
		return fmt.Errorf("gofmt 检查失败: %v", err)
	}
	if strings.TrimSpace(out) != "" {
		return fmt.Errorf("以下文件需要格式化:\n%s", out)
	}

	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return fmt.Errorf("go vet 失败: %v", err)
	}

	fmt.Println("✅ 代码检查通过!")
	return nil
}

// Coverage 生成测试覆盖率报告
func Coverage() error {
	fmt.Println("📈 生成测试覆盖率报告...")

	if err := os.MkdirAll(reportsDir, 0755); err != nil {
		return fmt.Errorf("创建报告目录失败: %v", err)
	}

	profile := filepath.Join(reportsDir, "coverage.out")
	html := filepath.Join(reportsDir, "coverage.html")

	cmd := exec.Command("go", "test", "./...", "-coverprofile="+profile, "-covermode=atomic")
	if output, err := cmd.CombinedOutput(); err != nil {
		fmt.Printf("测试输出:\n%s\n", string(output))
		return fmt.Errorf("生成覆盖率失败: %v", err)
	}

	if err := sh.Run("go", "tool", "cover", "-html="+profile, "-o", html); err != nil {
		return fmt.Errorf("生成HTML报告失败: %v", err)
	}
	if err := sh.RunV("go", "tool", "cover", "-func="+profile); err != nil {
		return fmt.Errorf("显示覆盖率失败: %v", err)
	}

	fmt.Println("   详细报告: file://" + getAbsolutePath(html))
	return nil
}

func isRedisRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "compose", "-f", composeFile, "-p", projectName,
		"exec", "-T", "redis", "redis-cli", "ping")
	return cmd.Run() == nil
}

func gitVersion() string {
	out, err := sh.Output("git", "describe", "--tags", "--always", "--dirty")
	if err != nil || out == "" {
		return "dev"
	}
	return out
}

func gitCommit() string {
	out, err := sh.Output("git", "rev-parse", "--short", "HEAD")
	if err != nil || out == "" {
		return "none"
	}
	return out
}

func getAbsolutePath(relativePath string) string {
	absPath, err := filepath.Abs(relativePath)
	if err != nil {
		return relativePath
	}
	return absPath
}
