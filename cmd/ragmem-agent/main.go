package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterh/liner"

	"github.com/lexlapax/ragmem/pkg/agent"
	"github.com/lexlapax/ragmem/pkg/config"
	"github.com/lexlapax/ragmem/pkg/log"
	"github.com/lexlapax/ragmem/pkg/ragmem"
	"github.com/lexlapax/ragmem/pkg/reasoning"
	reasoningMock "github.com/lexlapax/ragmem/pkg/reasoning/adapters/mock"
	"github.com/lexlapax/ragmem/pkg/session"
)

// Constants for the command-line interface
const (
	cmdHelp     = "!help"
	cmdQuit     = "!quit"
	cmdSession  = "!session"
	cmdRemember = "!remember"
	cmdRecall   = "!recall"
	cmdTools    = "!tools"
	cmdConfig   = "!config"
)

// Command-line help text
const helpText = `
RagMem Example Agent - Command Reference:
-----------------------------------------
!help              - Show this help message
!session <id>      - Switch the current session
!remember <text>   - Store a long-term memory
!recall <query>    - Show what the agent would recall for a query
!tools             - List the registered tools
!config            - Show current configuration
!quit              - Exit the application

Notes:
- Regular text input is handed to the agent loop
- Tab completion is available for commands
- Use up/down arrows for command history`

// historyFile is the file where command history is stored
const historyFile = ".ragmem_agent_history"

// defaultConfigYAML keeps the demo runnable with no setup at all:
// in-process backends, mock embeddings, mock reasoning.
const defaultConfigYAML = `
short_term:
  capacity: 32
long_term:
  chunk_size: 400
  chunk_overlap: 40
  index:
    backend: memory
  records:
    backend: memory
embedding:
  provider: mock
ingestion:
  enabled: true
scripting:
  paths: ["./scripts", "../scripts"]
reasoning:
  provider: mock
logging:
  level: info
`

func main() {
	// Initialize logger
	log.Setup(log.Config{
		Level:  log.InfoLevel,
		Format: log.TextFormat,
	})

	log.Info("Starting RagMem example agent")

	// Pick up OPENAI_API_KEY and friends from a .env file when present
	_ = godotenv.Load()

	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		log.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// When no real reasoning provider is configured, run the demo on a
	// canned engine so every question still gets an answer.
	var opts []ragmem.Option
	provider := strings.ToLower(cfg.Reasoning.Provider)
	if provider == "" || provider == config.ProviderMock {
		opts = append(opts, ragmem.WithReasoningEngine(demoEngine()))
	}

	client, err := ragmem.NewClient(cfg, opts...)
	if err != nil {
		log.Error("Failed to initialize RagMem client", "error", err)
		os.Exit(1)
	}
	defer client.Close()

	registerDemoTools(client)

	// Start the command-line interface
	runCLI(client, cfg)
}

// loadConfig looks for a config file in the standard locations and falls
// back to the built-in demo configuration.
func loadConfig() (*config.Config, error) {
	configPaths := []string{
		"./configs/config.yaml",
		"./config.yaml",
		"../configs/config.yaml",
		"../../configs/config.yaml",
	}

	// Try each path
	for _, path := range configPaths {
		if _, statErr := os.Stat(path); statErr == nil {
			log.Info("Loading configuration", "path", path)
			cfg, err := config.LoadFromFile(path)
			if err == nil {
				return cfg, nil
			}
			log.Warn("Failed to load config file", "path", path, "error", err)
		}
	}

	// If no config found, use the example config
	examplePath := "./configs/config.example.yaml"
	if _, statErr := os.Stat(examplePath); statErr == nil {
		log.Info("Loading example configuration", "path", examplePath)
		cfg, err := config.LoadFromFile(examplePath)
		if err == nil {
			return cfg, nil
		}
		log.Warn("Failed to load example config", "error", err)
	}

	// If still no config, use the built-in demo defaults
	log.Info("Using default configuration with in-memory backends")
	return config.LoadFromBytes([]byte(defaultConfigYAML))
}

// demoEngine builds a canned reasoning engine for offline demos.
func demoEngine() reasoning.Engine {
	engine := reasoningMock.NewMockEngine()

	engine.AddResponse("hello", "Hello! Tell me things with !remember and ask me about them later.")
	engine.AddResponse("help", "I keep a short-term log of our conversation and promote important turns to long-term memory. Ask me about anything you've told me.")
	engine.SetDefaultResponse("Here's what I can piece together from memory: the context above holds everything I currently know about that.")

	return engine
}

// registerDemoTools wires a couple of example tools into the agent loop.
func registerDemoTools(client *ragmem.Client) {
	tools := []agent.Tool{
		agent.ToolFunc{
			ToolName:        "clock",
			ToolDescription: "Returns the current UTC time in RFC 3339 form. Takes no arguments.",
			Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
				return time.Now().UTC().Format(time.RFC3339), nil
			},
		},
		agent.ToolFunc{
			ToolName:        "word_count",
			ToolDescription: "Counts the words in the 'text' argument.",
			Fn: func(ctx context.Context, args map[string]interface{}) (string, error) {
				text, _ := args["text"].(string)
				return fmt.Sprintf("%d", len(strings.Fields(text))), nil
			},
		},
	}

	for _, tool := range tools {
		if err := client.RegisterTool(tool); err != nil {
			log.Warn("Failed to register tool", "tool", tool.Name(), "error", err)
		}
	}
}

// runCLI starts the command-line interface for user interaction
func runCLI(client *ragmem.Client, cfg *config.Config) {
	// Start in the shared global session
	currentSession := session.GlobalID

	// Create and configure the liner (command line) state
	line := liner.NewLiner()
	defer line.Close()

	// Enable history
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(false)

	// Set tab completion
	line.SetCompleter(func(line string) (c []string) {
		commands := []string{cmdHelp, cmdQuit, cmdSession, cmdRemember, cmdRecall, cmdTools, cmdConfig}
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
	fmt.Println("\n=== RagMem Example Agent ===")
	fmt.Println("Vector Index:", orDefault(cfg.LongTerm.Index.Backend, config.IndexChromem))
	fmt.Println("Record Store:", orDefault(cfg.LongTerm.Records.Backend, config.RecordsBoltDB))
	fmt.Println("Reasoning:", orDefault(cfg.Reasoning.Provider, config.ProviderMock))
	fmt.Printf("Tools: %s\n", strings.Join(client.Tools(), ", "))
	fmt.Printf("Current Session: %s\n", currentSession)
	fmt.Println("Type !help for available commands.")

	// Main loop
	for {
		// Read user input
		prompt := fmt.Sprintf("agent::%s> ", currentSession)
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

		ctx := session.ContextWithSession(context.Background(), currentSession)

		// Process commands
		if strings.HasPrefix(input, "!") {
			parts := strings.SplitN(input, " ", 2)
			cmd := parts[0]

			switch cmd {
			case cmdHelp:
				fmt.Println(helpText)

			case cmdQuit:
				fmt.Println("Goodbye!")
				return

			case cmdSession:
				if len(parts) == 1 {
					fmt.Printf("Current session: %s\n", currentSession)
					sessionInput, err := line.Prompt("Enter new session ID (or press Enter to keep current): ")
					if err == nil && strings.TrimSpace(sessionInput) != "" {
						currentSession = session.ID(strings.TrimSpace(sessionInput))
						fmt.Printf("Session set to: %s\n", currentSession)
					}
				} else {
					currentSession = session.ID(strings.TrimSpace(parts[1]))
					fmt.Printf("Session set to: %s\n", currentSession)
				}

			case cmdRemember:
				content := ""
				if len(parts) == 1 {
					var err error
					content, err = line.Prompt("Enter memory to store: ")
					if err != nil || strings.TrimSpace(content) == "" {
						fmt.Println("Memory storage cancelled")
						continue
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
					var err error
					query, err = line.Prompt("Enter recall query: ")
					if err != nil || strings.TrimSpace(query) == "" {
						fmt.Println("Recall cancelled")
						continue
					}
				} else {
					query = parts[1]
				}

				bundle, err := client.Recall(ctx, query)
				if err != nil {
					fmt.Printf("Error recalling context: %v\n", err)
					continue
				}
				if len(bundle.RecentTurns) == 0 && len(bundle.Memories) == 0 {
					fmt.Println("Nothing recalled for this session.")
					continue
				}
				for _, turn := range bundle.RecentTurns {
					fmt.Printf("  [%s] %s\n", turn.Role, turn.Content)
				}
				for i, memory := range bundle.Memories {
					fmt.Printf("  %2d. [%.3f] %s\n", i+1, memory.Score, memory.Text)
				}

			case cmdTools:
				for _, name := range client.Tools() {
					fmt.Println("-", name)
				}

			case cmdConfig:
				// Display current configuration
				fmt.Println("\nCurrent Configuration:")
				fmt.Println("======================")
				fmt.Printf("Vector Index: %s\n", orDefault(cfg.LongTerm.Index.Backend, config.IndexChromem))
				fmt.Printf("Record Store: %s\n", orDefault(cfg.LongTerm.Records.Backend, config.RecordsBoltDB))
				fmt.Printf("Embedding Provider: %s\n", orDefault(cfg.Embedding.Provider, config.ProviderMock))
				fmt.Printf("Reasoning Provider: %s\n", orDefault(cfg.Reasoning.Provider, config.ProviderMock))
				fmt.Printf("Max Iterations: %d\n", cfg.Agent.MaxIterations)
				fmt.Printf("Log Level: %s\n", cfg.Logging.Level)
				fmt.Printf("Session: %s\n", currentSession)

			default:
				fmt.Printf("Unknown command: %s\nType !help for available commands.\n", cmd)
			}
		} else {
			// Hand everything else to the agent loop
			result, err := client.Ask(ctx, input)
			if err != nil {
				fmt.Printf("Error processing input: %v\n", err)
				continue
			}
			fmt.Println(result.Answer)
			if result.Status == agent.StatusPartialResult {
				fmt.Printf("(partial result after %d iterations)\n", result.Iterations)
			}
			if len(result.ToolsUsed) > 0 {
				fmt.Printf("(tools used: %s)\n", strings.Join(result.ToolsUsed, ", "))
			}
		}
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
