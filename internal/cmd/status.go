package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/beacon/internal/config"
	"github.com/Iron-Ham/beacon/internal/event"
	"github.com/Iron-Ham/beacon/internal/util"
	"github.com/Iron-Ham/beacon/internal/watcher"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Query a running beacon server and display its instances and monitored paths.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

var (
	statusTitle = lipgloss.NewStyle().Bold(true)
	statusOK    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	statusWarn  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	statusDim   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	base := fmt.Sprintf("http://%s", cfg.Server.Addr())
	client := &http.Client{Timeout: 5 * time.Second}

	var health struct {
		Status      string `json:"status"`
		Instances   int    `json:"instances"`
		Connections int    `json:"connections"`
	}
	if err := getJSON(client, base+"/health", &health); err != nil {
		fmt.Println(statusWarn.Render("offline"), statusDim.Render(base))
		return nil
	}

	fmt.Println(statusTitle.Render("beacon"), statusOK.Render(health.Status), statusDim.Render(base))
	fmt.Printf("Instances: %d\n", health.Instances)
	fmt.Printf("Connections: %d\n\n", health.Connections)

	var instances struct {
		Instances []event.InstanceInfo `json:"instances"`
	}
	if err := getJSON(client, base+"/api/instances", &instances); err != nil {
		return fmt.Errorf("failed to list instances: %w", err)
	}
	for i, inst := range instances.Instances {
		fmt.Printf("[%d] %s (%s)\n", i+1, inst.ID, inst.Status)
		fmt.Printf("    Command: %s\n", util.TruncateString(util.FirstLine(inst.Command), 60))
		fmt.Printf("    Started: %s\n", inst.StartTime.Format("2006-01-02 15:04:05"))
		fmt.Println()
	}

	var mon watcher.Status
	if err := getJSON(client, base+"/api/monitoring/status", &mon); err != nil {
		return fmt.Errorf("failed to fetch monitoring status: %w", err)
	}
	if mon.Active {
		fmt.Println(statusTitle.Render("Monitoring"))
		for _, p := range mon.Paths {
			fmt.Printf("    %s %s\n", p.ProjectPath, statusDim.Render("since "+p.Since.Format("15:04:05")))
		}
	} else {
		fmt.Println(statusDim.Render("Monitoring inactive"))
	}

	return nil
}

func getJSON(client *http.Client, url string, out any) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
