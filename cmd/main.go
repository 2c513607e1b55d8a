package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"document-qa/internal/chromemdb"
	"document-qa/internal/chunker"
	"document-qa/internal/config"
	"document-qa/internal/db"
	"document-qa/internal/embedding"
	"document-qa/internal/helper"
	"document-qa/internal/index"
	"document-qa/internal/llmservice"
	"document-qa/internal/models"
	"document-qa/internal/parser"
	"document-qa/internal/rag"
	"document-qa/internal/server"
	"document-qa/internal/session"
	"document-qa/internal/vectorstore"
)

const configFilePath = "./configs/config.yaml"

func main() {
	configPath := flag.String("config", configFilePath, "Path to the config file")
	logLevel := flag.String("log-level", "debug", "Log level (debug, info, warn, error)")
	serve := flag.Bool("serve", false, "Run the HTTP server")
	files := flag.String("file", "", "Comma separated document paths (.pdf, .docx, .txt)")
	query := flag.String("query", "", "Question to be answered")
	model := flag.String("model", "", "Chat model, overrides llm.model")
	returnAll := flag.Bool("return-all", false, "Send every chunk to the model instead of the top k")
	showDoc := flag.Bool("show-doc", false, "Print the parsed documents as HTML")
	export := flag.Bool("export", false, "Export the chromem collection to vector_store.path")
	purge := flag.Bool("purge-vectors", false, "Drop the pgvector table and exit")
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.DebugLevel
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	log.Debug().Str("model", cfg.LLM.Model).Str("embedding", cfg.EmbedLLM.Provider).Str("store", cfg.VectorStore.Kind).Msg("Loaded config")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *purge:
		purgeVectors(ctx, cfg)
	case *serve:
		runServer(ctx, cfg)
	case *files != "" && *query != "":
		answerOnce(ctx, cfg, helper.SplitList(*files), *query, *model, *returnAll, *showDoc, *export)
	default:
		log.Fatal().Msg("Please provide -serve, or both -file and -query")
	}
}

func runServer(ctx context.Context, cfg *config.Config) {
	manager, err := session.NewManager(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing session manager")
	}
	if err := server.NewServer(cfg, manager).Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func answerOnce(ctx context.Context, cfg *config.Config, paths []string, query, model string, returnAll, showDoc, export bool) {
	if model == "" {
		model = cfg.LLM.Model
	}
	llm, err := llmservice.NewLLM(&cfg.LLM, model)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chat model")
	}

	c, err := chunker.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing chunker")
	}

	var (
		docs     []models.Document
		chunks   [][]models.Chunk
		uploaded []index.File
	)
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("Error reading document")
		}
		doc, err := parser.Read(data, filepath.Base(path))
		if err != nil {
			log.Fatal().Err(err).Msg("Error parsing document")
		}
		if showDoc {
			html, err := parser.RenderHTML(doc)
			if err != nil {
				log.Fatal().Err(err).Msg("Error rendering document")
			}
			fmt.Printf("%s\n\n", html)
		}
		docs = append(docs, doc)
		chunks = append(chunks, c.Chunk(doc))
		uploaded = append(uploaded, index.File{Name: doc.Name, Data: data})
	}

	embKind, storeKind, err := session.Kinds(cfg, model)
	if err != nil {
		log.Fatal().Err(err).Msg("Error selecting embedder and vector store")
	}
	embedder, err := embedding.New(embKind, &cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}
	newStore, err := vectorstore.NewFactory(storeKind, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing vector store")
	}

	key := index.Fingerprint(uploaded, index.Params{
		EmbeddingKind:  embKind,
		EmbeddingModel: cfg.EmbedLLM.Model,
		StoreKind:      storeKind,
		ChunkSize:      c.Size(),
		ChunkOverlap:   c.Overlap(),
	})
	idx, err := index.Build(ctx, key, docs, chunks, embedder, newStore, index.Options{
		EmbeddingKind:    embKind,
		StoreKind:        storeKind,
		EmbedBatchSize:   cfg.RAG.EmbedBatchSize,
		EmbedConcurrency: cfg.RAG.EmbedConcurrency,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error building index")
	}
	if !export {
		defer idx.Release()
	}

	if export {
		vdb, ok := idx.Store.(*chromemdb.VectorDBManager)
		if !ok {
			log.Fatal().Str("store", storeKind.String()).Msg("Export is only supported for the chromem store")
		}
		if err := vdb.Export(ctx); err != nil {
			log.Fatal().Err(err).Msg("Error exporting collection")
		}
		log.Info().Str("file", vdb.FilePath()).Msg("Exported collection")
	}

	result, err := rag.NewEngine().Query(ctx, idx, query, llm, rag.Options{
		Model:       model,
		TopK:        cfg.RAG.TopK,
		ReturnAll:   returnAll,
		Temperature: cfg.LLM.Temperature,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}
	answer, err := rag.FormatAnswer(result)
	if err != nil {
		log.Fatal().Err(err).Msg("Error formatting answer")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(os.Stdout, result.Sources)

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", answer)
}

func purgeVectors(ctx context.Context, cfg *config.Config) {
	sqldb, err := db.ConnectDB(&cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Error connecting to database")
	}
	dbInstance := db.NewDB(sqldb, cfg.Database.Debug)
	defer dbInstance.Close()

	if err := db.DropVectors(ctx, dbInstance); err != nil {
		log.Fatal().Err(err).Msg("Error clearing vectors")
	}
	log.Info().Msg("Dropped pgvector table")
}
