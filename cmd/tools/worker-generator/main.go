// cmd/tools/worker-generator/main.go
package main

import (
	"bytes"
	"flag"
	"fmt"
	"go/format"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"grant-workers/pkg/registry"
)

// WorkerData holds data for templates
type WorkerData struct {
	Name        string
	PackageName string
	TaskType    string
	Description string
	Category    string
	ErrorCodes  []string
	Input       []Field
	Output      []Field
}

// Field is one struct field derived from a schema property.
type Field struct {
	Name     string
	Type     string
	JSON     string
	Required bool
}

// goType maps a JSON schema property to a Go type. Ids and counts that the
// registry declares as integers become uint64 and int respectively; amounts
// travel as decimal strings.
func goType(prop string, details map[string]interface{}) string {
	switch details["type"] {
	case "string":
		return "string"
	case "integer":
		if strings.HasSuffix(prop, "Id") && prop != "milestoneId" {
			return "uint64"
		}
		return "int"
	case "number":
		return "float64"
	case "boolean":
		return "bool"
	case "object":
		return "map[string]interface{}"
	case "array":
		return "[]interface{}"
	default:
		return "interface{}"
	}
}

// fieldsFor turns a JSON schema object into struct fields sorted by name.
func fieldsFor(schema map[string]interface{}) []Field {
	props, _ := schema["properties"].(map[string]interface{})
	required := map[string]bool{}
	if req, ok := schema["required"].([]interface{}); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				required[s] = true
			}
		}
	}

	fields := make([]Field, 0, len(props))
	for prop, raw := range props {
		details, ok := raw.(map[string]interface{})
		if !ok {
			continue
		}
		tag := prop
		if !required[prop] {
			tag += ",omitempty"
		}
		fields = append(fields, Field{
			Name:     exportName(prop),
			Type:     goType(prop, details),
			JSON:     tag,
			Required: required[prop],
		})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// exportName upper-cases the first letter and spells a trailing Id as ID.
func exportName(prop string) string {
	if prop == "" {
		return prop
	}
	name := strings.ToUpper(prop[:1]) + prop[1:]
	if strings.HasSuffix(name, "Id") {
		name = strings.TrimSuffix(name, "Id") + "ID"
	}
	return name
}

// render executes tmpl and gofmts the result when it is Go source.
func render(name, tmpl string, data WorkerData) ([]byte, error) {
	t, err := template.New(name).Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("execute template %s: %w", name, err)
	}
	if !strings.HasSuffix(name, ".go") {
		return buf.Bytes(), nil
	}
	src, err := format.Source(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("format %s: %w", name, err)
	}
	return src, nil
}

func newWorkerData(act *registry.Activity) WorkerData {
	return WorkerData{
		Name:        act.DisplayName,
		PackageName: strings.ReplaceAll(act.ID, "-", ""),
		TaskType:    act.TaskType,
		Description: act.Description,
		Category:    act.Category,
		ErrorCodes:  act.ErrorCodes,
		Input:       fieldsFor(act.InputSchema),
		Output:      fieldsFor(act.OutputSchema),
	}
}

func main() {
	activity := flag.String("activity", "", "Activity ID from registry (e.g., approve-milestone)")
	outputDir := flag.String("output", "./internal/workers/", "Output directory for the generated worker")
	registryPath := flag.String("registry", "configs/activity-registry.json", "Path to the activity registry JSON file")
	force := flag.Bool("force", false, "Overwrite existing files")
	flag.Parse()

	if *activity == "" {
		fmt.Println("Usage: worker-generator --activity <id> [--output <dir>] [--registry <path>] [--force]")
		fmt.Println("\nExample:")
		fmt.Println("  go run ./cmd/tools/worker-generator --activity disburse-from-pool")
		os.Exit(1)
	}

	reg, err := registry.LoadRegistry(*registryPath)
	if err != nil {
		fmt.Printf("Error loading registry from %s: %v\n", *registryPath, err)
		os.Exit(1)
	}

	act, ok := reg.Find(*activity)
	if !ok {
		fmt.Printf("Activity '%s' not found in registry %s\n", *activity, *registryPath)
		os.Exit(1)
	}

	if !registry.ValidCategory(act.Category) {
		fmt.Printf("Activity '%s' has category '%s'; expected one of %s\n",
			act.ID, act.Category, strings.Join(registry.Categories, ", "))
		os.Exit(1)
	}

	data := newWorkerData(act)
	workerDir := filepath.Join(*outputDir, data.Category, act.ID)
	if err := os.MkdirAll(workerDir, 0o755); err != nil {
		fmt.Printf("Error creating directory: %v\n", err)
		os.Exit(1)
	}

	files := map[string]string{
		"config.go":       configTemplate,
		"models.go":       modelsTemplate,
		"handler.go":      handlerTemplate,
		"handler_test.go": testTemplate,
	}
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(workerDir, name)
		if _, err := os.Stat(path); err == nil && !*force {
			fmt.Printf("- skipped %s (exists, use --force)\n", path)
			continue
		}
		src, err := render(name, files[name], data)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(path, src, 0o644); err != nil {
			fmt.Printf("Error writing %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("✓ Generated %s\n", path)
	}

	fmt.Printf("\n✅ Worker scaffold generated at: %s\n", workerDir)
	fmt.Printf("\nNext steps:\n")
	fmt.Printf("  1. Call the ApplicationStore operation in Execute\n")
	fmt.Printf("  2. Fill in the test cases in handler_test.go\n")
	fmt.Printf("  3. Register the worker in cmd/worker-manager/workers.go\n")
	fmt.Printf("  4. Add the worker to configs/config.yaml\n")
}
