package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"fxagent-go/internal/config"
)

const (
	defaultConfigPath = "internal/config/config.yaml"
	binDir            = "bin"
	journalTail       = 20
)

func main() {
	reader := bufio.NewReader(os.Stdin)

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	for {
		fmt.Println("\n=== FX Agent Control ===")
		fmt.Println("1) Show configuration summary")
		fmt.Println("2) Edit trading knobs")
		fmt.Println("3) Edit supervisor settings")
		fmt.Println("4) Save config")
		fmt.Println("5) Launch supervised agent")
		fmt.Println("6) Show recent decisions")
		fmt.Println("7) Reload config from disk")
		fmt.Println("0) Exit")
		fmt.Print("Select option: ")

		input, _ := reader.ReadString('\n')
		choice := strings.TrimSpace(input)

		switch choice {
		case "1":
			printSummary(cfg)
		case "2":
			editTrading(reader, cfg)
		case "3":
			editSupervisor(reader, cfg)
		case "4":
			if err := cfg.Validate(); err != nil {
				fmt.Printf("warning: %v\n", err)
			}
			if err := saveConfig(cfg); err != nil {
				fmt.Fprintf(os.Stderr, "save failed: %v\n", err)
			} else {
				fmt.Println("config saved")
			}
		case "5":
			launchSupervisor(reader)
		case "6":
			printJournal(cfg.Agent.JournalPath, journalTail)
		case "7":
			reloaded, err := loadConfig()
			if err != nil {
				fmt.Fprintf(os.Stderr, "reload failed: %v\n", err)
			} else {
				cfg = reloaded
				fmt.Println("config reloaded")
			}
		case "0":
			return
		default:
			fmt.Println("unknown option")
		}
	}
}

func printSummary(cfg *config.Config) {
	fmt.Println("\n--- Configuration Summary ---")
	fmt.Printf("Provider: %s | instruments: %s\n", cfg.Stream.Provider, strings.Join(cfg.Stream.Instruments(), ", "))
	fmt.Printf("Target: %s | tick every %s | warm-up %s\n", cfg.Agent.Target, cfg.Agent.TickInterval, cfg.Agent.WarmupDelay)
	fmt.Printf("Retention: %s | min lookback: %d samples\n", cfg.Agent.Retention, cfg.Agent.MinLookback)
	fmt.Printf("Threshold: %.3f%%\n", cfg.Agent.Threshold*100)
	fmt.Printf("Order fraction: %.1f%% | stop-loss %.2f%% | take-profit %.2f%%\n",
		cfg.Execution.OrderFraction*100, cfg.Execution.StopLossPct*100, cfg.Execution.TakeProfitPct*100)
	fmt.Printf("Per-trade notional cap: $%.2f\n", cfg.Risk.MaxNotionalPerTrade)
	fmt.Printf("Paper starting cash: $%.2f\n", cfg.Paper.StartingCash)
	fmt.Printf("Model: %s\n", cfg.Model.Path)
	fmt.Printf("Supervisor: %d restarts, %s delay, %s liveness timeout\n",
		cfg.Supervisor.MaxRestarts, cfg.Supervisor.RestartDelay, cfg.Supervisor.LivenessTimeout)
}

func editTrading(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Trading Knobs ---")
	cfg.Agent.Threshold = promptPercent(reader, "Buy/sell threshold (%)", cfg.Agent.Threshold)
	cfg.Execution.OrderFraction = promptPercent(reader, "Order size (% of equity)", cfg.Execution.OrderFraction)
	cfg.Execution.StopLossPct = promptPercent(reader, "Stop-loss (%)", cfg.Execution.StopLossPct)
	cfg.Execution.TakeProfitPct = promptPercent(reader, "Take-profit (%)", cfg.Execution.TakeProfitPct)
	cfg.Risk.MaxNotionalPerTrade = promptFloat(reader, "Max notional per trade (USD, 0 disables)", cfg.Risk.MaxNotionalPerTrade)
	cfg.Paper.StartingCash = promptFloat(reader, "Paper starting cash", cfg.Paper.StartingCash)
}

func editSupervisor(reader *bufio.Reader, cfg *config.Config) {
	fmt.Println("\n--- Edit Supervisor ---")
	cfg.Supervisor.MaxRestarts = int(promptFloat(reader, "Max restarts", float64(cfg.Supervisor.MaxRestarts)))
	cfg.Supervisor.RestartDelay = promptDuration(reader, "Restart delay", cfg.Supervisor.RestartDelay)
	cfg.Supervisor.LivenessTimeout = promptDuration(reader, "Liveness timeout", cfg.Supervisor.LivenessTimeout)
}

func launchSupervisor(reader *bufio.Reader) {
	fmt.Println("Building agent and supervisor...")
	build := exec.Command("go", "build", "-o", binDir+string(filepath.Separator), "./cmd/agent", "./cmd/supervisor")
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr
	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "build failed: %v\n", err)
		return
	}

	fmt.Println("Launching supervisor (Ctrl+C to stop)...")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Run the binary directly so the interrupt reaches the supervisor, which stops the agent.
	cmd := exec.CommandContext(ctx, filepath.Join(binDir, "supervisor"), "-config", locateConfig())
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = 30 * time.Second
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to start supervisor: %v\n", err)
		return
	}

	done := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(done)
	}()

	fmt.Print("\nPress ENTER to stop the agent and return to menu...")
	_, _ = reader.ReadString('\n')
	cancel()
	<-done
}

// printJournal shows the newest decisions and fills from the JSONL journal.
func printJournal(path string, n int) {
	file, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open journal: %v\n", err)
		return
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	fmt.Printf("\n--- Last %d journal entries ---\n", len(lines))
	for _, line := range lines {
		entry := gjson.Parse(line)
		switch entry.Get("type").String() {
		case "signal":
			s := entry.Get("signal")
			fmt.Printf("%s  %-4s current=%.5f predicted=%.5f zero-filled=%d\n",
				s.Get("ts").String(), s.Get("action").String(), s.Get("current").Float(), s.Get("predicted").Float(),
				len(s.Get("zero_filled").Array()))
		case "fill":
			f := entry.Get("fill")
			fmt.Printf("%s  FILL %s %s qty=%.2f px=%.5f\n",
				f.Get("ts").String(), f.Get("side").String(), f.Get("symbol").String(), f.Get("qty").Float(), f.Get("price").Float())
		}
	}
}

func promptFloat(reader *bufio.Reader, label string, current float64) float64 {
	fmt.Printf("%s [%.2f]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	val, err := strconv.ParseFloat(line, 64)
	if err != nil {
		fmt.Printf("invalid number, keeping %.2f\n", current)
		return current
	}
	return val
}

func promptPercent(reader *bufio.Reader, label string, current float64) float64 {
	pct := promptFloat(reader, label, current*100)
	return pct / 100
}

func promptDuration(reader *bufio.Reader, label string, current time.Duration) time.Duration {
	fmt.Printf("%s [%s]: ", label, current)
	line, _ := reader.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return current
	}
	d, err := time.ParseDuration(line)
	if err != nil || d <= 0 {
		fmt.Printf("invalid duration, keeping %s\n", current)
		return current
	}
	return d
}

func loadConfig() (*config.Config, error) {
	return config.Load(locateConfig())
}

func saveConfig(cfg *config.Config) error {
	return config.Save(locateConfig(), cfg)
}

func locateConfig() string {
	if filepath.IsAbs(defaultConfigPath) {
		return defaultConfigPath
	}
	return filepath.Clean(defaultConfigPath)
}
