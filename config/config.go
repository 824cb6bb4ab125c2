package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v2"
)

// config/config.go
type User struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type AuthConfig struct {
	Users []User `yaml:"users"`
}

type Backup struct {
	Provider string `yaml:"provider"` // "aws", "gcp", ou "azure"
	Enabled  bool   `yaml:"enabled"`
	Prefix   string `yaml:"prefix"`
	GCP      struct {
		Bucket    string `yaml:"bucket"`
		ProjectID string `yaml:"projectID"`
	} `yaml:"gcp"`
	AWS struct {
		Bucket string `yaml:"bucket"`
		Region string `yaml:"region"`
	} `yaml:"aws"`
	Azure struct {
		StorageAccount string `yaml:"storageAccount"`
		Container      string `yaml:"container"`
	} `yaml:"azure"`
}

// RedisConfig enables the shared metrics archive. An empty Addr keeps history in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
	Key      string `yaml:"key"`
}

type Config struct {
	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`
	Auth   AuthConfig  `yaml:"auth"`
	Backup Backup      `yaml:"backup"`
	Redis  RedisConfig `yaml:"redis"`

	// Policy is the initial optimization/cache policy, mutable at runtime
	Policy Policy `yaml:"policy"`
}

type Secrets struct {
	// AWS credentials
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// GCP credentials
	GCPCredentialsFile string

	// Azure credentials
	AzureStorageAccountKey string
}

// Default returns a configuration that runs without any file
func Default() *Config {
	cfg := &Config{Policy: DefaultPolicy()}
	cfg.Server.Port = 3030
	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Redis.Key = "image-optimizer:metrics:history"
	return cfg
}

// LoadConfig charge la configuration depuis un fichier YAML
func LoadConfig(path string) (*Config, error) {
	config := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("❌ error reading config file: %w", err)
	}

	// yaml.v2 merges into the defaults, absent keys keep their built-in value
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("❌ error parsing config: %w", err)
	}

	// Charger les configs depuis des variables d'environnement si présentes
	loadConfigFromEnv(config)

	if err := ApplyOverrides(&config.Policy, EnvOverrides()); err != nil {
		return nil, fmt.Errorf("❌ error applying policy overrides: %w", err)
	}
	if err := config.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("❌ %w", err)
	}

	fmt.Printf("🔍 Loaded config successfully\n")
	return config, nil
}

// Charge les configurations depuis les variables d'environnement
func loadConfigFromEnv(config *Config) {
	// Paramètres du serveur
	if portStr := os.Getenv("SERVER_PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil {
			config.Server.Port = port
		}
	}

	// Paramètres de logging
	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		config.Logging.Level = logLevel
	}
	if logFormat := os.Getenv("LOG_FORMAT"); logFormat != "" {
		config.Logging.Format = logFormat
	}

	// Paramètres de backup
	if provider := os.Getenv("BACKUP_PROVIDER"); provider != "" {
		config.Backup.Provider = provider
	}
	if enabled := os.Getenv("BACKUP_ENABLED"); enabled != "" {
		config.Backup.Enabled = enabled == "true"
	}
	if prefix := os.Getenv("BACKUP_PREFIX"); prefix != "" {
		config.Backup.Prefix = prefix
	}

	// GCP backup config
	if gcpBucket := os.Getenv("GCP_BUCKET"); gcpBucket != "" {
		config.Backup.GCP.Bucket = gcpBucket
	}
	if gcpProjectID := os.Getenv("GCP_PROJECT_ID"); gcpProjectID != "" {
		config.Backup.GCP.ProjectID = gcpProjectID
	}

	// AWS backup config
	if awsBucket := os.Getenv("AWS_BUCKET"); awsBucket != "" {
		config.Backup.AWS.Bucket = awsBucket
	}
	if awsRegion := os.Getenv("AWS_REGION"); awsRegion != "" {
		config.Backup.AWS.Region = awsRegion
	}

	// Azure backup config
	if azureAccount := os.Getenv("AZURE_STORAGE_ACCOUNT"); azureAccount != "" {
		config.Backup.Azure.StorageAccount = azureAccount
	}
	if azureContainer := os.Getenv("AZURE_CONTAINER"); azureContainer != "" {
		config.Backup.Azure.Container = azureContainer
	}

	// Redis archive
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			config.Redis.DB = n
		}
	}

	loadAuthFromEnv(config)
}

// loadAuthFromEnv charge les utilisateurs depuis les variables d'environnement
// Format: OPTIMIZER_USERS="user1:pass1,user2:pass2"
func loadAuthFromEnv(config *Config) {
	usersEnv := os.Getenv("OPTIMIZER_USERS")
	if usersEnv == "" {
		return
	}
	config.Auth.Users = []User{}
	for _, userPair := range strings.Split(usersEnv, ",") {
		parts := strings.SplitN(strings.TrimSpace(userPair), ":", 2)
		if len(parts) == 2 {
			config.Auth.Users = append(config.Auth.Users, User{
				Username: strings.TrimSpace(parts[0]),
				Password: strings.TrimSpace(parts[1]),
			})
		}
	}
	fmt.Printf("🔐 Total users loaded: %d\n", len(config.Auth.Users))
}

// LoadSecrets charge les secrets depuis les variables d'environnement
func LoadSecrets() *Secrets {
	secrets := &Secrets{}

	// AWS secrets
	secrets.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	secrets.AWSSecretAccessKey = os.Getenv("AWS_SECRET_ACCESS_KEY")

	// GCP secrets
	secrets.GCPCredentialsFile = os.Getenv("GCP_CREDENTIALS_FILE")

	// Azure secrets
	secrets.AzureStorageAccountKey = os.Getenv("AZURE_STORAGE_ACCOUNT_KEY")

	return secrets
}
