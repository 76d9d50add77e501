// Command agneto runs one task through the orchestration engine end to end:
// refinement, planning, curmudgeon gating, chunked execution, super-review,
// and gardening, persisting checkpoints at each milestone.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/spf13/afero"
	mongodriver "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"goa.design/clue/log"

	"github.com/durch/agneto/internal/checkpoint"
	"github.com/durch/agneto/internal/checkpoint/filestore"
	"github.com/durch/agneto/internal/checkpoint/mongostore"
	"github.com/durch/agneto/internal/command"
	"github.com/durch/agneto/internal/gitutil"
	"github.com/durch/agneto/internal/hooks"
	"github.com/durch/agneto/internal/injection"
	"github.com/durch/agneto/internal/model"
	"github.com/durch/agneto/internal/orchestrator"
	"github.com/durch/agneto/internal/provider/anthropic"
	"github.com/durch/agneto/internal/provider/bedrock"
	"github.com/durch/agneto/internal/provider/middleware"
	openaiprovider "github.com/durch/agneto/internal/provider/openai"
	"github.com/durch/agneto/internal/session"
	"github.com/durch/agneto/internal/session/inmem"
	mongosession "github.com/durch/agneto/internal/session/mongo"
	mongoclient "github.com/durch/agneto/internal/session/mongo/clients/mongo"
	"github.com/durch/agneto/internal/taskfsm"
)

func main() {
	var (
		autoMergeF      = flag.Bool("auto-merge", false, "merge to the default branch once the task completes")
		nonInteractiveF = flag.Bool("non-interactive", false, "skip refinement and fail terminally on any needs-human verdict")
		checkpointDirF  = flag.String("checkpoint-dir", "", "checkpoint root directory; files go under <dir>/task-<id>/checkpoints (default .agneto)")
		logLevelF       = flag.String("log-level", "info", "console verbosity: debug, verbose, or info")
	)
	flag.Parse()

	args := flag.Args()
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: agneto <task-id> \"<task text>\" [--auto-merge] [--non-interactive] [--checkpoint-dir=...] [--log-level=debug|verbose|info]")
		os.Exit(2)
	}
	taskID, taskText := args[0], args[1]

	ctx := setupLogging(*logLevelF)

	client, modelName, err := buildProviderClient()
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "provider setup failed"})
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "resolving working directory"})
		os.Exit(1)
	}
	repo := gitutil.New(cwd)

	bus := hooks.NewBus()
	if _, err := bus.Register(hooks.SubscriberFunc(consolePrinter)); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "registering console subscriber"})
		os.Exit(1)
	}
	if endpoint := os.Getenv("AGNETO_DASHBOARD_ENDPOINT"); endpoint != "" {
		if _, err := bus.Register(hooks.NewDashboardForwarder(endpoint)); err != nil {
			log.Error(ctx, err, log.KV{K: "msg", V: "registering dashboard forwarder"})
			os.Exit(1)
		}
	}

	checkpoints, sessions, err := buildStores(ctx, taskID, *checkpointDirF)
	if err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "store setup failed"})
		os.Exit(1)
	}

	opts := taskfsm.Options{AutoMerge: *autoMergeF, NonInteractive: *nonInteractiveF}
	task := taskfsm.New(taskID, taskText, cwd, opts, bus)
	if head, err := repo.HeadCommit(ctx); err == nil {
		task.SetBaselineCommit(head)
	}

	orc := orchestrator.New(task, orchestrator.Deps{
		Client:      client,
		Git:         repo,
		Commands:    command.NewBus(),
		Events:      bus,
		Sessions:    sessions,
		Checkpoints: checkpoints,
		Injection:   injection.NewQueue(),
		PlansFS:     afero.NewOsFs(),
		ModelName:   modelName,
	})

	if err := orc.Run(ctx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "task failed"})
		os.Exit(1)
	}

	switch task.State() {
	case taskfsm.Complete, taskfsm.Abandoned:
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "agneto: task ended in unexpected state %q\n", task.State())
		os.Exit(1)
	}
}

func setupLogging(level string) context.Context {
	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if strings.EqualFold(level, "debug") || os.Getenv("DEBUG") == "true" {
		ctx = log.Context(ctx, log.WithDebug())
	}
	return ctx
}

func consolePrinter(_ context.Context, event hooks.Event) error {
	switch e := event.(type) {
	case hooks.StateChanged:
		fmt.Printf("[%s] %s -> %s\n", e.TaskID, e.From, e.To)
	case hooks.ActivityUpdated:
		fmt.Printf("[%s] %s\n", e.TaskID, e.Activity)
	case hooks.QuestionAsked:
		fmt.Printf("[%s] question: %s\n", e.TaskID, e.Question)
	}
	return nil
}

// buildProviderClient selects a backend from AGNETO_PROVIDER (anthropic,
// openai, or bedrock; default anthropic), wrapping it with the adaptive
// rate limiter so provider throttling surfaces as ordinary ERROR_OCCURRED
// transitions instead of a special case.
func buildProviderClient() (model.Client, string, error) {
	provider := strings.ToLower(os.Getenv("AGNETO_PROVIDER"))
	if provider == "" {
		provider = "anthropic"
	}
	modelName := os.Getenv("AGNETO_MODEL")

	var client model.Client
	switch provider {
	case "anthropic":
		apiKey := os.Getenv("ANTHROPIC_API_KEY")
		if modelName == "" {
			modelName = "claude-sonnet-4-20250514"
		}
		c, err := anthropic.NewFromAPIKey(apiKey, modelName)
		if err != nil {
			return nil, "", err
		}
		client = c
	case "openai":
		apiKey := os.Getenv("OPENAI_API_KEY")
		if modelName == "" {
			modelName = "gpt-4o"
		}
		c, err := openaiprovider.NewFromAPIKey(apiKey, modelName)
		if err != nil {
			return nil, "", err
		}
		client = c
	case "bedrock":
		cfg, err := awsconfig.LoadDefaultConfig(context.Background())
		if err != nil {
			return nil, "", fmt.Errorf("agneto: loading AWS config: %w", err)
		}
		if modelName == "" {
			modelName = "anthropic.claude-3-5-sonnet-20241022-v2:0"
		}
		c, err := bedrock.New(bedrock.Options{
			Runtime:      bedrockruntime.NewFromConfig(cfg),
			DefaultModel: modelName,
		})
		if err != nil {
			return nil, "", err
		}
		client = c
	default:
		return nil, "", fmt.Errorf("agneto: unknown AGNETO_PROVIDER %q", provider)
	}

	limiter := middleware.NewAdaptiveRateLimiter(60000, 240000)
	return limiter.Middleware()(client), modelName, nil
}

// buildStores selects checkpoint.Store and session.Store backends from
// AGNETO_STORE_BACKEND (file, the default, or mongo). Both stores share one
// Mongo client and database when mongo is selected, since a deployment
// durable enough to need Mongo-backed checkpoints needs durable session
// refs for the same reason.
func buildStores(ctx context.Context, taskID, checkpointDirFlag string) (checkpoint.Store, session.Store, error) {
	backend := strings.ToLower(os.Getenv("AGNETO_STORE_BACKEND"))
	if backend == "" {
		backend = "file"
	}

	switch backend {
	case "file":
		checkpointDir := checkpointDirFlag
		if checkpointDir == "" {
			checkpointDir = ".agneto"
		}
		return filestore.New(afero.NewOsFs(), checkpointDir), inmem.New(), nil
	case "mongo":
		uri := os.Getenv("AGNETO_MONGO_URI")
		database := os.Getenv("AGNETO_MONGO_DATABASE")
		if uri == "" || database == "" {
			return nil, nil, fmt.Errorf("agneto: AGNETO_MONGO_URI and AGNETO_MONGO_DATABASE are required for the mongo store backend")
		}
		mongoClient, err := mongodriver.Connect(ctx, options.Client().ApplyURI(uri))
		if err != nil {
			return nil, nil, fmt.Errorf("agneto: connecting to mongo: %w", err)
		}
		cpStore, err := mongostore.New(mongostore.Options{Client: mongoClient, Database: database})
		if err != nil {
			return nil, nil, fmt.Errorf("agneto: building mongo checkpoint store: %w", err)
		}
		sessionClient, err := mongoclient.New(mongoclient.Options{Client: mongoClient, Database: database})
		if err != nil {
			return nil, nil, fmt.Errorf("agneto: building mongo session client: %w", err)
		}
		return cpStore, mongosession.New(sessionClient), nil
	default:
		return nil, nil, fmt.Errorf("agneto: unknown AGNETO_STORE_BACKEND %q", backend)
	}
}
