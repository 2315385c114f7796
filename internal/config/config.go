package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// Config is bound to flags and environment variables by kong.
type Config struct {
	Addr     string `help:"Address the web UI listens on." env:"ADDR" default:":8080"`
	LogLevel string `help:"Log level." env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error"`

	Driver    string `help:"Pipeline driver (${enum})." env:"PIPELINE_DRIVER" default:"sdcpp" enum:"sdcpp,openai,dezgo"`
	SDBinary  string `name:"sd-binary" help:"stable-diffusion.cpp executable." env:"SD_BINARY" default:"sd"`
	SDThreads int    `name:"sd-threads" help:"CPU threads for inference, 0 for all cores." env:"SD_THREADS" default:"0"`
	SDSteps   int    `name:"sd-steps" help:"Sampling steps." env:"SD_STEPS" default:"20"`
	ModelDir  string `help:"Directory holding downloaded weights." env:"MODEL_DIR" default:"models"`

	HFEndpoint string `name:"hf-endpoint" help:"Model repository endpoint." env:"HF_ENDPOINT" default:"https://huggingface.co"`
	HFToken    string `name:"hf-token" help:"Model repository access token." env:"HF_TOKEN"`

	OpenAIBaseURL  string `name:"openai-base-url" help:"OpenAI-compatible API base, e.g. http://localai:8080/v1." env:"OPENAI_BASE_URL"`
	OpenAIKey      string `name:"openai-api-key" help:"API key for the OpenAI-compatible server." env:"OPENAI_API_KEY"`
	OpenAIKeyParam string `name:"openai-api-key-param" help:"SSM parameter holding the API key." env:"OPENAI_API_KEY_PARAM"`

	DezgoKey      string `name:"dezgo-key" help:"Dezgo API key." env:"DEZGO_KEY"`
	DezgoKeyParam string `name:"dezgo-key-param" help:"SSM parameter holding the Dezgo API key." env:"DEZGO_KEY_PARAM"`

	Bucket       string `help:"S3 bucket mirroring output.png." env:"BUCKET"`
	Distribution string `help:"CloudFront distribution in front of the bucket." env:"DISTRIBUTION"`
}

func (c *Config) Validate() error {
	if c.Driver == "openai" && c.OpenAIBaseURL == "" {
		return errors.New("--openai-base-url is required with the openai driver")
	}
	if c.Distribution != "" && c.Bucket == "" {
		return errors.New("--distribution needs --bucket")
	}
	return nil
}

// LoadDotEnv loads every file in files that exists, without overriding variables already set.
// It returns the files it loaded.
func LoadDotEnv(files ...string) ([]string, error) {
	var loaded []string
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return loaded, err
		}
		loaded = append(loaded, f)
	}
	return loaded, nil
}
