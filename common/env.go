package common

import (
	"fmt"
	"os"

	"github.com/spf13/viper"
)

// LookupEnv resolves a credential-style variable, preferring an entry in a
// local .env file over the process environment. Returns an error when the
// variable is absent from both.
func LookupEnv(key string) (string, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err == nil {
		if value := v.GetString(key); value != "" {
			return value, nil
		}
	}
	if value := os.Getenv(key); value != "" {
		return value, nil
	}
	return "", fmt.Errorf("variable %s is not set in .env or the environment", key)
}

// GithubToken returns the GitHub API token from GITHUB_TOKEN.
func GithubToken() (string, error) {
	return LookupEnv("GITHUB_TOKEN")
}

// GithubUsername returns the fork-owner account name from GITHUB_USERNAME.
func GithubUsername() (string, error) {
	return LookupEnv("GITHUB_USERNAME")
}
