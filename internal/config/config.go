package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Ai       AIConfig
	TaskQ    TaskQueueConfig
	Rag      RagConfig
	Calendar CalendarConfig
	Jwt      JwtConfig
}

type AppConfig struct {
	Port               string
	BaseURL            string
	ClientURL          string
	Environment        string
	LogFilePath        string
	CorsAllowedOrigins string
	NatsURL            string
	RedisURL           string
}

type DatabaseConfig struct {
	Connection string
}

type AIConfig struct {
	LLMProvider   string // "ollama", "openai", etc
	LLMModel      string // e.g. "llama3", "qwen2.5"
	OllamaBaseURL string
}

type TaskQueueConfig struct {
	StreamName        string
	QueueName         string
	TaskName          string
	PollIntervalMs    int
	PollAttempts      int
	CandidatePoolSize int
	RerankPoolSize    int
}

type RagConfig struct {
	MinScore          float64
	MaxGroups         int
	MaxContextLength  int
	GroupCharBudget   int
	HistoryLimit      int
	MinAnswerLength   int
	ClassifyTimeoutMs int
}

type CalendarConfig struct {
	AgentURL string
}

type JwtConfig struct {
	Secret string
}

func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Note: .env file not found, usage system environment")
	}

	return &Config{
		App: AppConfig{
			Port:               getEnv("APP_PORT", "3000"),
			BaseURL:            getEnv("APP_BASE_URL", "http://localhost:3000"),
			ClientURL:          getEnv("CLIENT_URL", "http://localhost:5173"),
			Environment:        getEnv("GO_ENV", "development"),
			LogFilePath:        getEnv("LOG_FILE_PATH", "app.log"),
			CorsAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),
			NatsURL:            getEnv("NATS_URL", "nats://localhost:4222"),
			RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		},
		Database: DatabaseConfig{
			Connection: getEnv("DB_CONNECTION_STRING", ""),
		},
		Ai: AIConfig{
			LLMProvider:   getEnv("LLM_PROVIDER", "ollama"),
			LLMModel:      getEnv("LLM_MODEL", "llama3"),
			OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		},
		TaskQ: TaskQueueConfig{
			StreamName:        getEnv("TASKQ_STREAM_NAME", "TASKS"),
			QueueName:         getEnv("TASKQ_QUEUE_NAME", "search"),
			TaskName:          getEnv("TASKQ_TASK_NAME", "search.execute"),
			PollIntervalMs:    getEnvAsInt("TASKQ_POLL_INTERVAL_MS", 1000),
			PollAttempts:      getEnvAsInt("TASKQ_POLL_ATTEMPTS", 60),
			CandidatePoolSize: getEnvAsInt("TASKQ_CANDIDATE_POOL", 30),
			RerankPoolSize:    getEnvAsInt("TASKQ_RERANK_POOL", 10),
		},
		Rag: RagConfig{
			MinScore:          getEnvAsFloat("RAG_MIN_SCORE", 1.0),
			MaxGroups:         getEnvAsInt("RAG_MAX_GROUPS", 2),
			MaxContextLength:  getEnvAsInt("RAG_MAX_CONTEXT_LENGTH", 8000),
			GroupCharBudget:   getEnvAsInt("RAG_GROUP_CHAR_BUDGET", 4000),
			HistoryLimit:      getEnvAsInt("RAG_HISTORY_LIMIT", 6),
			MinAnswerLength:   getEnvAsInt("RAG_MIN_ANSWER_LENGTH", 20),
			ClassifyTimeoutMs: getEnvAsInt("RAG_CLASSIFY_TIMEOUT_MS", 8000),
		},
		Calendar: CalendarConfig{
			AgentURL: getEnv("CALENDAR_AGENT_URL", "http://localhost:8090"),
		},
		Jwt: JwtConfig{
			Secret: getEnv("JWT_SECRET", ""),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	strValue := getEnv(key, "")
	if value, err := strconv.Atoi(strValue); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	strValue := getEnv(key, "")
	if value, err := strconv.ParseFloat(strValue, 64); err == nil {
		return value
	}
	return fallback
}
