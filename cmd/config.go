package cmd

import (
	"github.com/spf13/viper"

	"docchat/src/core/docchat"
)

func settingDefaultConfig() {
	// Enable automatic environment variable binding
	viper.AutomaticEnv()

	// Map environment variables to Viper keys for PostgreSQL
	viper.BindEnv("postgres.host", "POSTGRES_HOST")
	viper.BindEnv("postgres.port", "POSTGRES_PORT")
	viper.BindEnv("postgres.user", "POSTGRES_USER")
	viper.BindEnv("postgres.password", "POSTGRES_PASSWORD")
	viper.BindEnv("postgres.db", "POSTGRES_DB")

	// Map environment variables to Viper keys for MinIO and Server
	viper.BindEnv("minio.endpoint", "MINIO_ENDPOINT")
	viper.BindEnv("minio.access_key", "MINIO_ACCESS_KEY")
	viper.BindEnv("minio.secret_key", "MINIO_SECRET_KEY")
	viper.BindEnv("minio.use_ssl", "MINIO_USE_SSL")
	viper.BindEnv("minio.bucket", "MINIO_BUCKET")
	viper.BindEnv("server.port", "SERVER_PORT")
	viper.BindEnv("server.shutdown_timeout", "SERVER_SHUTDOWN_TIMEOUT")

	// Map environment variables to Viper keys for Ollama
	viper.BindEnv("ollama.url", "OLLAMA_URL")
	viper.BindEnv("ollama.embedding_model", "OLLAMA_EMBEDDING_MODEL")
	viper.BindEnv("ollama.generation_model", "OLLAMA_GENERATION_MODEL")

	// Map environment variables to Viper keys for the pipeline
	viper.BindEnv("rag.data_root", "RAG_DATA_ROOT")
	viper.BindEnv("rag.chunk_size", "RAG_CHUNK_SIZE")
	viper.BindEnv("rag.chunk_overlap", "RAG_CHUNK_OVERLAP")
	viper.BindEnv("rag.top_k", "RAG_TOP_K")
	viper.BindEnv("rag.history_window", "RAG_HISTORY_WINDOW")
	viper.BindEnv("rag.max_context_tokens", "RAG_MAX_CONTEXT_TOKENS")
	viper.BindEnv("rag.generation_timeout", "RAG_GENERATION_TIMEOUT")

	// Set default values for PostgreSQL
	viper.SetDefault("postgres.host", "localhost")
	viper.SetDefault("postgres.port", "5432")
	viper.SetDefault("postgres.user", "postgres")
	viper.SetDefault("postgres.password", "postgres")
	viper.SetDefault("postgres.db", "docchat")

	// Set default values for MinIO and Server
	viper.SetDefault("minio.endpoint", "localhost:9000")
	viper.SetDefault("minio.access_key", "minioadmin")
	viper.SetDefault("minio.secret_key", "minioadmin")
	viper.SetDefault("minio.use_ssl", false)
	viper.SetDefault("minio.bucket", "documents")
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.shutdown_timeout", "5s")

	// Set default values for Ollama
	viper.SetDefault("ollama.url", "http://ollama:11434/api")
	viper.SetDefault("ollama.embedding_model", "nomic-embed-text")
	viper.SetDefault("ollama.generation_model", "llama3")

	// Set default values for the pipeline
	viper.SetDefault("rag.data_root", "./data")
	viper.SetDefault("rag.chunk_size", 1000)
	viper.SetDefault("rag.chunk_overlap", 200)
	viper.SetDefault("rag.top_k", 4)
	viper.SetDefault("rag.history_window", 10)
	viper.SetDefault("rag.max_context_tokens", 4000)
	viper.SetDefault("rag.generation_timeout", "60s")
}

func pipelineConfig() docchat.Config {
	cfg := docchat.DefaultConfig()
	cfg.ChunkSize = viper.GetInt("rag.chunk_size")
	cfg.ChunkOverlap = viper.GetInt("rag.chunk_overlap")
	cfg.TopK = viper.GetInt("rag.top_k")
	cfg.HistoryWindow = viper.GetInt("rag.history_window")
	cfg.MaxContextTokens = viper.GetInt("rag.max_context_tokens")
	cfg.GenerationTimeout = viper.GetDuration("rag.generation_timeout")
	cfg.EmbeddingModel = viper.GetString("ollama.embedding_model")
	cfg.GenerationModel = viper.GetString("ollama.generation_model")
	return cfg
}
