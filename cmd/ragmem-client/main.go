package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/ragmem/pkg/agent"
	"github.com/lexlapax/ragmem/pkg/config"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/mem/ltm"
	"github.com/lexlapax/ragmem/pkg/mmu"
	"github.com/lexlapax/ragmem/pkg/ragmem"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdSession  = "!session"
	cmdRemember = "!remember"
	cmdRecall   = "!recall"
	cmdSearch   = "!search"
	cmdAsk      = "!ask"
	cmdForget   = "!forget"
	cmdPurge    = "!purge"
	cmdExport   = "!export"
	cmdSweep    = "!sweep"
	cmdConfig   = "!config"
)

// Command-line help text
const helpText = `
RagMem Client - Command Reference:
----------------------------------
!help              - Show this help message
!session <id>      - Switch the current session
!remember <text>   - Store a long-term memory
!recall <query>    - Show the context bundle assembled for a query
!search <query>    - Rank long-term memory against a query
!ask <question>    - Run the agent loop on a question
!forget <id>       - Delete a long-term record by ID
!purge             - Erase the current session from both memory tiers
!export            - List the current session's long-term records
!sweep             - Remove expired records across all sessions
!config            - Show current configuration
!quit              - Exit the application

Notes:
- Regular text input is treated as a question for the agent
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".ragmem_history"

func main() {
	// Parse command-line flags
	configPath := flag.String("config", "", "Path to configuration file")
	stdinMode := flag.Bool("s", false, "Read from stdin and exit when complete")
	flag.Parse()

	// Initialize logger
	log.Setup(log.Config{
		Level:  log.InfoLevel,
		Format: log.TextFormat,
	})

	log.Info("Starting RagMem client")

	// Pick up OPENAI_API_KEY and friends from a .env file when present
	_ = godotenv.Load()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	client, err := ragmem.NewClient(cfg)
	if err != nil {
		log.Error("Failed to initialize RagMem client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Start the command-line interface
	runCLI(client, cfg, *stdinMode)
}

// loadConfig loads the configuration from the given path, or probes the
// standard locations when no path was provided.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}

	configPaths := []string{
		"./configs/config.yaml",
		"./config.yaml",
		"../configs/config.yaml",
		"./configs/config.example.yaml",
	}

	for _, candidate := range configPaths {
		if _, err := os.Stat(candidate); err == nil {
			log.Info("Loading configuration", "path", candidate)
			cfg, err := config.LoadFromFile(candidate)
			if err == nil {
				return cfg, nil
			}
			log.Warn("Failed to load config file", "path", candidate, "error", err)
		}
	}

	return nil, fmt.Errorf("no configuration file found; pass one with -config")
}

// runCLI starts the command-line interface for user interaction
func runCLI(client *ragmem.Client, cfg *config.Config, stdinMode bool) {
	// Start in the shared global session
	currentSession := session.GlobalID

	// Different handling based on mode
	if stdinMode {
		// Use a scanner for direct stdin processing
		scanner := bufio.NewScanner(os.Stdin)

		// Print welcome message
		fmt.Println("\n=== RagMem Client (stdin mode) ===")
		printBackends(cfg)
		fmt.Printf("Current Session: %s\n", currentSession)

		// Process stdin lines
		for scanner.Scan() {
			input := strings.TrimSpace(scanner.Text())
			if input == "" {
				continue
			}

			// Skip comments and shebang lines for stdin-based testing
			if strings.HasPrefix(input, "#") || strings.HasPrefix(input, "//") {
				continue
			}

			// Process each line
			if input == cmdQuit {
				fmt.Println("Goodbye!")
				return
			}

			// Format a fake prompt for better output readability
			prompt := fmt.Sprintf("ragmem::%s> ", currentSession)
			fmt.Print(prompt, input, "\n")

			// Process the command
			processCommand(input, client, cfg, &currentSession, nil)
		}

		// Exit when stdin is complete
		if err := scanner.Err(); err != nil {
			fmt.Printf("Error reading stdin: %v\n", err)
		}
		fmt.Println("Goodbye!")
		return
	}

	// Interactive mode
	// Create and configure the liner (command line) state
	line := liner.NewLiner()
	defer line.Close()

	// Enable history
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	// Set tab completion
	line.SetCompleter(func(line string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdSession, cmdRemember, cmdRecall, cmdSearch, cmdAsk, cmdForget, cmdPurge, cmdExport, cmdSweep, cmdConfig}
		for _, cmd := range commands {
			if strings.HasPrefix(cmd, line) {
				c = append(c, cmd)
			}
		}
		return
	})

	// Load history from file if it exists
	if f, err := os.Open(historyFile); err == nil {
		line.ReadHistory(f)
		f.Close()
	}

	// Save history when exiting
	defer func() {
		if f, err := os.Create(historyFile); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	// Print welcome message
	fmt.Println("\n=== RagMem Client ===")
	printBackends(cfg)
	fmt.Printf("Current Session: %s\n", currentSession)
	fmt.Println("Type !help for available commands.")

	// Main loop
	for {
		// Read user input
		prompt := fmt.Sprintf("ragmem::%s> ", currentSession)
		input, err := line.Prompt(prompt)

		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nGoodbye!")
				break
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}

		// Skip empty input
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		// Add to history
		line.AppendHistory(input)

		// If quit command, break the loop
		if input == cmdQuit {
			fmt.Println("Goodbye!")
			break
		}

		// Process command
		shouldContinue := processCommand(input, client, cfg, &currentSession, line)
		if !shouldContinue {
			break
		}
	}
}

// processCommand handles a single command and returns false if the CLI should exit
func processCommand(input string,
	client *ragmem.Client,
	cfg *config.Config,
	currentSession *session.ID,
	line *liner.State) bool {

	ctx := session.ContextWithSession(context.Background(), *currentSession)

	// Process commands
	if strings.HasPrefix(input, "!") {
		parts := strings.SplitN(input, " ", 2)
		cmd := parts[0]

		switch cmd {
		case cmdHelp:
			fmt.Println(helpText)

		case cmdQuit:
			// Already handled in main loop
			return false

		case cmdSession:
			if len(parts) == 1 {
				fmt.Printf("Current session: %s\n", *currentSession)
				// Prompt for a session ID if not provided and in interactive mode
				if line != nil {
					sessionInput, err := line.Prompt("Enter new session ID (or press Enter to keep current): ")
					if err == nil && strings.TrimSpace(sessionInput) != "" {
						*currentSession = session.ID(strings.TrimSpace(sessionInput))
						fmt.Printf("Session set to: %s\n", *currentSession)
					}
				}
			} else {
				*currentSession = session.ID(strings.TrimSpace(parts[1]))
				fmt.Printf("Session set to: %s\n", *currentSession)
			}

		case cmdRemember:
			content := ""
			if len(parts) == 1 {
				// Prompt for memory content if not provided
				if line == nil {
					fmt.Println("Usage: !remember <text>")
					return true
				}
				var err error
				content, err = line.Prompt("Enter memory to store: ")
				if err != nil || strings.TrimSpace(content) == "" {
					fmt.Println("Memory storage cancelled")
					return true
				}
			} else {
				content = parts[1]
			}

			record, err := client.Remember(ctx, content)
			if err != nil {
				fmt.Printf("Error storing memory: %v\n", err)
			} else {
				fmt.Printf("Stored memory %s (%d chunks)\n", record.ID, len(record.Chunks))
			}

		case cmdRecall:
			query := ""
			if len(parts) == 1 {
				if line == nil {
					fmt.Println("Usage: !recall <query>")
					return true
				}
				var err error
				query, err = line.Prompt("Enter recall query: ")
				if err != nil || strings.TrimSpace(query) == "" {
					fmt.Println("Recall cancelled")
					return true
				}
			} else {
				query = parts[1]
			}

			bundle, err := client.Recall(ctx, query)
			if err != nil {
				fmt.Printf("Error recalling context: %v\n", err)
			} else {
				printBundle(bundle)
			}

		case cmdSearch:
			query := ""
			if len(parts) == 1 {
				if line == nil {
					fmt.Println("Usage: !search <query>")
					return true
				}
				var err error
				query, err = line.Prompt("Enter search query: ")
				if err != nil || strings.TrimSpace(query) == "" {
					fmt.Println("Search cancelled")
					return true
				}
			} else {
				query = parts[1]
			}

			hits, err := client.Search(ctx, query, cfg.Retrieval.Candidates)
			if err != nil {
				fmt.Printf("Error searching memory: %v\n", err)
			} else if len(hits) == 0 {
				fmt.Println("No matching memories found.")
			} else {
				for i, hit := range hits {
					fmt.Printf("%2d. [%.3f] %s (record %s)\n", i+1, hit.Score, truncate(hit.Text, 80), hit.RecordID)
				}
			}

		case cmdAsk:
			question := ""
			if len(parts) == 1 {
				if line == nil {
					fmt.Println("Usage: !ask <question>")
					return true
				}
				var err error
				question, err = line.Prompt("Enter question: ")
				if err != nil || strings.TrimSpace(question) == "" {
					fmt.Println("Question cancelled")
					return true
				}
			} else {
				question = parts[1]
			}

			ask(ctx, client, question)

		case cmdForget:
			recordID := ""
			if len(parts) == 1 {
				if line == nil {
					fmt.Println("Usage: !forget <record-id>")
					return true
				}
				var err error
				recordID, err = line.Prompt("Enter record ID to forget: ")
				if err != nil || strings.TrimSpace(recordID) == "" {
					fmt.Println("Forget cancelled")
					return true
				}
				recordID = strings.TrimSpace(recordID)
			} else {
				recordID = strings.TrimSpace(parts[1])
			}

			if err := client.Forget(ctx, recordID); err != nil {
				fmt.Printf("Error forgetting record: %v\n", err)
			} else {
				fmt.Printf("Forgot record %s\n", recordID)
			}

		case cmdPurge:
			if err := client.PurgeSession(ctx); err != nil {
				fmt.Printf("Error purging session: %v\n", err)
			} else {
				fmt.Printf("Purged session %s from both memory tiers\n", *currentSession)
			}

		case cmdExport:
			records, err := client.Export(ctx)
			if err != nil {
				fmt.Printf("Error exporting records: %v\n", err)
			} else if len(records) == 0 {
				fmt.Println("No long-term records in this session.")
			} else {
				for _, record := range records {
					printRecord(record)
				}
				fmt.Printf("%d record(s)\n", len(records))
			}

		case cmdSweep:
			removed, err := client.SweepExpired(ctx)
			if err != nil {
				fmt.Printf("Error sweeping expired records: %v\n", err)
			} else {
				fmt.Printf("Removed %d expired record(s)\n", removed)
			}

		case cmdConfig:
			// Display current configuration
			fmt.Println("\nCurrent Configuration:")
			fmt.Println("======================")
			fmt.Printf("Vector Index: %s\n", orDefault(cfg.LongTerm.Index.Backend, config.IndexChromem))
			fmt.Printf("Record Store: %s\n", orDefault(cfg.LongTerm.Records.Backend, config.RecordsBoltDB))
			fmt.Printf("Embedding Provider: %s\n", orDefault(cfg.Embedding.Provider, config.ProviderMock))
			fmt.Printf("Reasoning Provider: %s\n", orDefault(cfg.Reasoning.Provider, config.ProviderMock))
			fmt.Printf("Rerank Mode: %s\n", orDefault(cfg.Rerank.Mode, config.RerankSimilarity))
			fmt.Printf("Short-Term Capacity: %d\n", cfg.ShortTerm.Capacity)
			fmt.Printf("Chunk Size/Overlap: %d/%d\n", cfg.LongTerm.ChunkSize, cfg.LongTerm.ChunkOverlap)
			fmt.Printf("Retrieval: window=%d candidates=%d top_k=%d threshold=%.2f\n",
				cfg.Retrieval.RecentWindow, cfg.Retrieval.Candidates, cfg.Retrieval.TopK, cfg.Retrieval.ScoreThreshold)
			fmt.Printf("Log Level: %s\n", cfg.Logging.Level)
			fmt.Printf("Session: %s\n", *currentSession)

		default:
			fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
		}
	} else {
		// Treat as a question for the agent by default
		ask(ctx, client, input)
	}

	return true
}

// ask runs one agent loop turn and prints the outcome.
func ask(ctx context.Context, client *ragmem.Client, question string) {
	result, err := client.Ask(ctx, question)
	if err != nil {
		fmt.Printf("Error processing question: %v\n", err)
		return
	}
	fmt.Println(result.Answer)
	if result.Status == agent.StatusPartialResult {
		fmt.Printf("(partial result after %d iterations)\n", result.Iterations)
	}
	if len(result.ToolsUsed) > 0 {
		fmt.Printf("(tools used: %s)\n", strings.Join(result.ToolsUsed, ", "))
	}
}

// printBundle renders a retrieved context bundle.
func printBundle(bundle *mmu.ContextBundle) {
	if len(bundle.RecentTurns) == 0 && len(bundle.Memories) == 0 {
		fmt.Println("Nothing recalled for this session.")
		return
	}
	if len(bundle.RecentTurns) > 0 {
		fmt.Println("Recent turns:")
		for _, turn := range bundle.RecentTurns {
			fmt.Printf("  [%s] %s\n", turn.Role, truncate(turn.Content, 100))
		}
	}
	if len(bundle.Memories) > 0 {
		fmt.Println("Long-term memories:")
		for i, memory := range bundle.Memories {
			fmt.Printf("  %2d. [%.3f] %s\n", i+1, memory.Score, truncate(memory.Text, 100))
		}
	}
	if bundle.Truncated {
		fmt.Println("(bundle truncated to fit the token budget)")
	}
}

// printRecord renders a single long-term record for listings.
func printRecord(record ltm.MemoryRecord) {
	fmt.Printf("- %s  %s\n", record.ID, truncate(record.Content, 70))
	fmt.Printf("  category=%s tags=%v chunks=%d created=%s",
		orDefault(record.Category, "-"), record.Tags, len(record.Chunks),
		record.CreatedAt.Format("2006-01-02 15:04:05"))
	if record.ExpiresAt != nil {
		fmt.Printf(" expires=%s", record.ExpiresAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Println()
}

// printBackends shows which adapters the client was configured with.
func printBackends(cfg *config.Config) {
	fmt.Println("Vector Index:", orDefault(cfg.LongTerm.Index.Backend, config.IndexChromem))
	fmt.Println("Record Store:", orDefault(cfg.LongTerm.Records.Backend, config.RecordsBoltDB))
	fmt.Println("Embedding:", orDefault(cfg.Embedding.Provider, config.ProviderMock))
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-3]) + "..."
}
