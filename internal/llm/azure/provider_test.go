package azure

import (
	"strings"
	"testing"

	"github.com/codemesh/codemesh/internal/llm"
)

func TestDeploymentURLEmbedsChatCompletionsBeforeQuery(t *testing.T) {
	p := New("https://my-resource.openai.azure.com", "", []Deployment{{ModelID: "gpt-4o", Name: "prod-gpt4o"}}, nil, nil)
	url := p.deploymentURL("prod-gpt4o")

	const want = "https://my-resource.openai.azure.com/openai/deployments/prod-gpt4o/chat/completions?api-version=2024-06-01"
	if url != want {
		t.Fatalf("deploymentURL = %q, want %q", url, want)
	}
	if !strings.Contains(url, "/chat/completions?") {
		t.Fatalf("expected /chat/completions ahead of the query string, got %q", url)
	}
}

func TestListModelsReflectsConfiguredDeployments(t *testing.T) {
	p := New("https://my-resource.openai.azure.com", "", []Deployment{
		{ModelID: "gpt-4o", Name: "prod-gpt4o", Capabilities: llm.Capabilities{Tools: true}},
	}, nil, nil)

	models, err := p.ListModels(nil)
	if err != nil {
		t.Fatalf("ListModels: %v", err)
	}
	if len(models) != 1 || models[0].ID != "gpt-4o" {
		t.Fatalf("unexpected models: %+v", models)
	}
}
