// Package docgen turns an IDL into a four-section Documentation record
// through a sequence of LLM prompts.
package docgen

import (
	"context"
	"embed"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/soldocs/soldocs/internal/idl"
	"github.com/soldocs/soldocs/internal/types"
)

const (
	// batchSize is the maximum number of instructions documented per call.
	batchSize = 5
	// maxPromptIDLChars caps the embedded IDL JSON in prompts.
	maxPromptIDLChars = 15_000
	// batchSeparator joins the per-batch instruction sections.
	batchSeparator = "\n\n---\n\n"
	// sectionSeparator joins the fullMarkdown blocks.
	sectionSeparator = "\n---\n"

	noAccountsFallback = "No account types, custom types, events, or error codes are defined in this program's IDL."
)

//go:embed prompts/*.tmpl
var promptFS embed.FS

var prompts = template.Must(template.ParseFS(promptFS, "prompts/*.tmpl"))

// TextGenerator produces text for a prompt. Satisfied by llm.Client.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Generator orchestrates the documentation passes.
type Generator struct {
	llm TextGenerator
	log *slog.Logger
}

// New creates a Generator backed by the given text generator.
func New(llm TextGenerator, log *slog.Logger) *Generator {
	return &Generator{llm: llm, log: log}
}

// Generate runs the overview, instructions, accounts, and security passes
// and assembles the final Documentation. The idlHash is recorded verbatim
// so readers can tie docs back to the IDL snapshot that produced them.
func (g *Generator) Generate(ctx context.Context, doc idl.Document, programID, idlHash string) (*types.Documentation, error) {
	name := doc.Name()
	if name == idl.UnknownProgramName {
		return nil, fmt.Errorf("refusing to document program %s: IDL has no usable name", programID)
	}

	overview, err := g.generateOverview(ctx, doc, name)
	if err != nil {
		return nil, fmt.Errorf("overview pass: %w", err)
	}
	instructions, err := g.generateInstructions(ctx, doc, name)
	if err != nil {
		return nil, fmt.Errorf("instructions pass: %w", err)
	}
	accounts, err := g.generateAccounts(ctx, doc, name)
	if err != nil {
		return nil, fmt.Errorf("accounts pass: %w", err)
	}
	security, err := g.generateSecurity(ctx, doc, name)
	if err != nil {
		return nil, fmt.Errorf("security pass: %w", err)
	}

	generatedAt := time.Now().UTC()
	full := assembleMarkdown(name, programID, generatedAt, overview, instructions, accounts, security)
	g.validate(programID, full)

	return &types.Documentation{
		ProgramID:    programID,
		Name:         name,
		Overview:     overview,
		Instructions: instructions,
		Accounts:     accounts,
		Security:     security,
		FullMarkdown: full,
		GeneratedAt:  generatedAt,
		IDLHash:      idlHash,
	}, nil
}

func (g *Generator) generateOverview(ctx context.Context, doc idl.Document, name string) (string, error) {
	prompt, err := render("overview.tmpl", map[string]any{
		"Name":             name,
		"InstructionCount": doc.InstructionCount(),
		"AccountCount":     doc.AccountCount(),
		"TypeCount":        len(doc.Array("types")),
		"EventCount":       len(doc.Array("events")),
		"ErrorCount":       len(doc.Array("errors")),
		"IDLJSON":          idl.TruncateJSON(doc, maxPromptIDLChars),
	})
	if err != nil {
		return "", err
	}
	return g.llm.Generate(ctx, prompt)
}

func (g *Generator) generateInstructions(ctx context.Context, doc idl.Document, name string) (string, error) {
	instructions := doc.Instructions()
	sections := make([]string, 0, (len(instructions)+batchSize-1)/batchSize)

	for start := 0; start < len(instructions); start += batchSize {
		end := min(start+batchSize, len(instructions))
		prompt, err := render("instructions.tmpl", map[string]any{
			"Name":      name,
			"BatchJSON": idl.TruncateJSON(instructions[start:end], maxPromptIDLChars),
		})
		if err != nil {
			return "", err
		}
		section, err := g.llm.Generate(ctx, prompt)
		if err != nil {
			return "", fmt.Errorf("batch %d-%d: %w", start, end-1, err)
		}
		sections = append(sections, section)
	}
	return strings.Join(sections, batchSeparator), nil
}

func (g *Generator) generateAccounts(ctx context.Context, doc idl.Document, name string) (string, error) {
	accounts := doc.Array("accounts")
	customTypes := doc.Array("types")
	events := doc.Array("events")
	errs := doc.Array("errors")

	if len(accounts) == 0 && len(customTypes) == 0 && len(events) == 0 && len(errs) == 0 {
		return noAccountsFallback, nil
	}

	prompt, err := render("accounts.tmpl", map[string]any{
		"Name":         name,
		"AccountsJSON": idl.TruncateJSON(accounts, maxPromptIDLChars),
		"TypesJSON":    idl.TruncateJSON(customTypes, maxPromptIDLChars),
		"HasEvents":    len(events) > 0,
		"EventsJSON":   idl.TruncateJSON(events, maxPromptIDLChars),
		"HasErrors":    len(errs) > 0,
		"ErrorsJSON":   idl.TruncateJSON(errs, maxPromptIDLChars),
	})
	if err != nil {
		return "", err
	}
	return g.llm.Generate(ctx, prompt)
}

func (g *Generator) generateSecurity(ctx context.Context, doc idl.Document, name string) (string, error) {
	prompt, err := render("security.tmpl", map[string]any{
		"Name":    name,
		"IDLJSON": idl.TruncateJSON(doc, maxPromptIDLChars),
	})
	if err != nil {
		return "", err
	}
	return g.llm.Generate(ctx, prompt)
}

// assembleMarkdown joins the header, four sections, and footer. With six
// blocks the separator appears five times.
func assembleMarkdown(name, programID string, generatedAt time.Time, overview, instructions, accounts, security string) string {
	header := fmt.Sprintf("# %s\n\nProgram ID: `%s`\nGenerated at: %s\nGenerated by SolDocs",
		name, programID, generatedAt.Format(time.RFC3339))
	footer := "*Documentation generated autonomously by SolDocs.*"
	return strings.Join([]string{header, overview, instructions, accounts, security, footer}, sectionSeparator)
}

// validate logs structural warnings. Short or code-free output is suspect
// but never fatal.
func (g *Generator) validate(programID, full string) {
	if len(full) < 500 {
		g.log.Warn("generated documentation is suspiciously short", "program", programID, "length", len(full))
	}
	if !strings.Contains(full, "```") {
		g.log.Warn("generated documentation has no fenced code block", "program", programID)
	}
}

func render(name string, data any) (string, error) {
	var sb strings.Builder
	if err := prompts.ExecuteTemplate(&sb, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return sb.String(), nil
}
