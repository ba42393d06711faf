package app

import (
	"net/http"
	"testing"
	"time"
)

type fakeEnv map[string]string

func (f fakeEnv) Lookup(key string) string {
	return f[key]
}

func TestResolveBuilderOptions_FromEnvironment(t *testing.T) {
	env := fakeEnv{
		"MATE_DIRECTORY_PATH": " /etc/dsp/mates.yaml ",
	}
	resolved := resolveBuilderOptions(WithEnvironment(env))
	if resolved.runtime.MateDirectoryPath != "/etc/dsp/mates.yaml" {
		t.Fatalf("mate directory path not trimmed: %q", resolved.runtime.MateDirectoryPath)
	}
}

func TestResolveBuilderOptions_WithRuntimeConfigOverridesEnv(t *testing.T) {
	env := fakeEnv{"MATE_DIRECTORY_PATH": "/from/env.yaml"}
	cfg := RuntimeConfig{MateDirectoryPath: "/from/override.yaml"}
	resolved := resolveBuilderOptions(WithEnvironment(env), WithRuntimeConfig(cfg))
	if resolved.runtime.MateDirectoryPath != "/from/override.yaml" {
		t.Fatalf("expected override to win, got %q", resolved.runtime.MateDirectoryPath)
	}
}

func TestResolveBuilderOptions_CustomHTTPClient(t *testing.T) {
	client := &http.Client{Timeout: time.Second}
	resolved := resolveBuilderOptions(WithHTTPClient(client))
	if resolved.httpClient != client {
		t.Fatalf("custom http client not applied")
	}
}
