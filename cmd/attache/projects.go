package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/attache/internal/config"
)

var (
	projectAddRepo   string
	projectAddChatID int64
)

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manage the project registry",
	Long: `List, add or remove registered projects.

Registered projects link a local directory to an optional GitHub repository.
Projects with a repository receive webhook notifications when the webhook
listener is enabled.`,
	Run: func(cmd *cobra.Command, args []string) {
		runProjectsList()
	},
}

var projectsAddCmd = &cobra.Command{
	Use:   "add <name> <path>",
	Short: "Register a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectsAdd(args[0], args[1])
	},
}

var projectsRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a project from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProjectsRemove(args[0])
	},
}

func init() {
	projectsAddCmd.Flags().StringVar(&projectAddRepo, "repo", "", "GitHub repository full name (owner/repo) for webhook routing")
	projectsAddCmd.Flags().Int64Var(&projectAddChatID, "chat", 0, "Chat id that receives this repository's notifications")

	projectsCmd.AddCommand(projectsAddCmd)
	projectsCmd.AddCommand(projectsRemoveCmd)
}

func runProjectsList() {
	projects, err := config.LoadProjects(config.ProjectsPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading projects: %v\n", err)
		os.Exit(1)
	}
	if len(projects) == 0 {
		fmt.Println("No projects registered. Use 'attache projects add <name> <path>'.")
		return
	}

	nameStyle := color.New(color.FgCyan, color.Bold)
	for _, name := range projects.Names() {
		p := projects[name]
		nameStyle.Println(name)
		fmt.Printf("  path: %s\n", p.Path)
		if p.Repo != "" {
			fmt.Printf("  repo: %s\n", p.Repo)
		}
		if p.ChatID != 0 {
			fmt.Printf("  chat: %d\n", p.ChatID)
		}
	}
}

func runProjectsAdd(name, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	if info, err := os.Stat(absPath); err != nil || !info.IsDir() {
		return fmt.Errorf("%s is not a directory", absPath)
	}

	registryPath := config.ProjectsPath()
	projects, err := config.LoadProjects(registryPath)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	projects[name] = config.Project{
		Path:   absPath,
		Repo:   projectAddRepo,
		ChatID: projectAddChatID,
	}
	if err := projects.Save(registryPath); err != nil {
		return fmt.Errorf("save projects: %w", err)
	}
	fmt.Printf("Registered %s -> %s\n", name, absPath)
	return nil
}

func runProjectsRemove(name string) error {
	registryPath := config.ProjectsPath()
	projects, err := config.LoadProjects(registryPath)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	if _, ok := projects[name]; !ok {
		return fmt.Errorf("no project named %q", name)
	}
	delete(projects, name)
	if err := projects.Save(registryPath); err != nil {
		return fmt.Errorf("save projects: %w", err)
	}
	fmt.Printf("Removed %s\n", name)
	return nil
}
