package main

// crosscompile.go builds release binaries across platforms, stamping
// main.CompileVersion with a build number aligned to GitHub Actions run
// numbers so local and CI builds share one sequence.

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// targets lists the platforms the dashboard is actually deployed on.
// Everything builds with CGO off, so the matrix needs no per-target cases.
var targets = []struct {
	os   string
	arch string
}{
	{"linux", "amd64"},
	{"linux", "arm64"},
	{"linux", "arm"},
	{"darwin", "amd64"},
	{"darwin", "arm64"},
	{"windows", "amd64"},
	{"freebsd", "amd64"},
}

func main() {
	goModTidy := exec.Command("go", "mod", "tidy")
	if err := goModTidy.Run(); err != nil {
		fmt.Printf("go mod tidy failed: %s\n", err)
	}

	goSourceFile, err := findMainGoFile()
	if err != nil {
		log.Fatalf("Error finding main Go file: %v", err)
	}
	baseName := filepath.Base(goSourceFile)
	executionFile := strings.TrimSuffix(baseName, filepath.Ext(baseName))

	version, err := getGitVersion()
	if err != nil {
		log.Fatalf("Error getting Git version: %v", err)
	}
	fmt.Printf("Building version: %s\n", version)

	gitRootPath, err := getGitRootPath()
	if err != nil {
		log.Fatalf("Error getting Git root path: %v", err)
	}

	binariesPath := filepath.Join(gitRootPath, "binaries", version)
	if err := os.MkdirAll(binariesPath, os.ModePerm); err != nil {
		log.Fatalf("Error creating binaries directory: %v", err)
	}

	latestLink := filepath.Join(gitRootPath, "binaries", "latest")
	os.Remove(latestLink)
	if err := os.Symlink(version, latestLink); err != nil {
		log.Printf("Warning: failed to create symlink 'latest': %v", err)
	}

	for _, target := range targets {
		osName := target.os
		execFileName := executionFile
		dirOSName := osName

		if osName == "windows" {
			execFileName += ".exe"
		} else if osName == "darwin" {
			dirOSName = "mac"
		}

		outputDir := filepath.Join(binariesPath, dirOSName, target.arch)
		if err := os.MkdirAll(outputDir, os.ModePerm); err != nil {
			log.Printf("Error creating output directory %s: %v", outputDir, err)
			continue
		}
		outputPath := filepath.Join(outputDir, execFileName)

		ldflags := fmt.Sprintf("-X 'main.CompileVersion=%s'", version)
		buildCmd := exec.Command("go", "build", "-ldflags", ldflags, "-o", outputPath, goSourceFile)
		buildCmd.Env = append(os.Environ(),
			"GOOS="+osName, "GOARCH="+target.arch, "CGO_ENABLED=0")

		if err := buildCmd.Run(); err != nil {
			if err := os.RemoveAll(outputDir); err != nil {
				log.Printf("Error removing output directory %s: %v", outputDir, err)
			}
			continue
		}
		if err := os.Chmod(outputPath, 0755); err != nil {
			log.Printf("Error setting permissions on %s: %v", outputPath, err)
		}
		fmt.Printf("Successfully built %s for %s/%s\n", execFileName, osName, target.arch)
	}

	deployPath := "/var/www/downloads/" + executionFile + "/"
	remoteHost := os.Getenv("TXMAP_DEPLOY_HOST")
	if remoteHost == "" {
		remoteHost = "deploy@files.example.net"
	}

	fmt.Print("Do you want to deploy the binaries over SSH? (Y/n): ")
	var response string
	fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))
	if response == "n" {
		fmt.Println("Deployment skipped.")
		return
	}

	var input string
	fmt.Printf("Default remote host is '%s'. Press Enter to keep it or type a new host: ", remoteHost)
	fmt.Scanln(&input)
	if input != "" {
		remoteHost = input
	}
	fmt.Printf("Default deployment path is '%s'. Press Enter to keep it or type a new path: ", deployPath)
	fmt.Scanln(&input)
	if input != "" {
		deployPath = input
	}

	if err := runCommand("rsync", "-avP", "binaries/", fmt.Sprintf("%s:%s", remoteHost, deployPath)); err != nil {
		log.Printf("Error deploying binaries: %v", err)
	} else {
		fmt.Println("Deployment completed successfully.")
	}
}

func runCommand(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// ----- Git helpers -----

func getGitRootPath() (string, error) {
	cmd := exec.Command("git", "rev-parse", "--show-toplevel")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(output)), nil
}

// getGitVersion returns the build number aligned with GitHub Actions:
// environment variable first, then the GitHub API, then commit count as a
// fallback. The run number and the dirty state are checked concurrently.
func getGitVersion() (string, error) {
	runChan := make(chan string)
	dirtyChan := make(chan bool)
	errChan := make(chan error, 2)

	go func() {
		if env := os.Getenv("GITHUB_RUN_NUMBER"); env != "" {
			runChan <- env
			return
		}
		n, err := fetchNextRunNumber()
		if err != nil {
			errChan <- err
			return
		}
		runChan <- n
	}()

	go func() {
		cmd := exec.Command("git", "status", "--porcelain")
		output, err := cmd.Output()
		if err != nil {
			errChan <- err
			return
		}
		dirtyChan <- len(strings.TrimSpace(string(output))) > 0
	}()

	var runNumber string
	dirty := false
	for i := 0; i < 2; i++ {
		select {
		case rn := <-runChan:
			runNumber = rn
		case d := <-dirtyChan:
			dirty = d
		case err := <-errChan:
			return "", err
		}
	}

	if runNumber == "" {
		cmd := exec.Command("git", "rev-list", "--count", "HEAD")
		output, err := cmd.Output()
		if err != nil {
			return "", err
		}
		runNumber = strings.TrimSpace(string(output))
	}

	if dirty {
		runNumber += "-dirty"
	}
	return runNumber, nil
}

// ----- File helpers -----

func findMainGoFile() (string, error) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		return "", err
	}
	for _, file := range files {
		content, err := os.ReadFile(file)
		if err != nil {
			continue
		}
		if strings.Contains(string(content), "package main") && strings.Contains(string(content), "func main()") {
			return file, nil
		}
	}
	return "", fmt.Errorf("no main Go file found in the current directory")
}

// ----- Version helpers -----

// fetchNextRunNumber retrieves the next GitHub Actions run number so local
// builds share numbering with CI builds.
func fetchNextRunNumber() (string, error) {
	cmd := exec.Command("git", "config", "--get", "remote.origin.url")
	output, err := cmd.Output()
	if err != nil {
		return "", err
	}
	owner, repo, err := parseGitHubRepo(strings.TrimSpace(string(output)))
	if err != nil {
		return "", err
	}

	apiURL := fmt.Sprintf("https://api.github.com/repos/%s/%s/actions/workflows/release.yml/runs?per_page=1", owner, repo)
	resp, err := http.Get(apiURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var result struct {
		WorkflowRuns []struct {
			RunNumber int `json:"run_number"`
		} `json:"workflow_runs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	if len(result.WorkflowRuns) == 0 {
		return "1", nil
	}
	return strconv.Itoa(result.WorkflowRuns[0].RunNumber + 1), nil
}

// parseGitHubRepo extracts owner and repository from a remote URL.
func parseGitHubRepo(remote string) (string, string, error) {
	if strings.HasPrefix(remote, "git@") {
		parts := strings.SplitN(remote, ":", 2)
		if len(parts) != 2 {
			return "", "", fmt.Errorf("invalid remote URL")
		}
		remote = parts[1]
	} else if strings.HasPrefix(remote, "https://") || strings.HasPrefix(remote, "http://") {
		u, err := url.Parse(remote)
		if err != nil {
			return "", "", err
		}
		remote = strings.TrimPrefix(u.Path, "/")
	}
	remote = strings.TrimSuffix(remote, ".git")
	parts := strings.Split(remote, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("unable to parse owner and repo")
	}
	return parts[0], parts[1], nil
}
