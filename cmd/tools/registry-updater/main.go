// cmd/tools/registry-updater/main.go
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	apperrors "grant-workers/internal/common/errors"
	"grant-workers/internal/common/validation"
	"grant-workers/pkg/registry"
)

// knownCodes are the BPMN error codes a worker can raise.
var knownCodes = map[apperrors.ErrorCode]bool{
	apperrors.ErrCodeDuplicateApplication:     true,
	apperrors.ErrCodeGrantInactive:            true,
	apperrors.ErrCodeUnauthorized:             true,
	apperrors.ErrCodeWorkspaceMismatch:        true,
	apperrors.ErrCodeInvalidState:             true,
	apperrors.ErrCodeInvalidTransition:        true,
	apperrors.ErrCodeInvalidMilestoneID:       true,
	apperrors.ErrCodeMilestonesIncomplete:     true,
	apperrors.ErrCodeAlreadyDisbursed:         true,
	apperrors.ErrCodeInvalidInput:             true,
	apperrors.ErrCodeNotFound:                 true,
	apperrors.ErrCodeTransferFailed:           true,
	apperrors.ErrCodeDatabaseConnectionFailed: true,
	apperrors.ErrCodeQueryExecutionFailed:     true,
	apperrors.ErrCodeQueryTimeout:             true,
	apperrors.ErrCodeExternalService:          true,
	apperrors.ErrCodeTimeout:                  true,
	apperrors.ErrCodeAuthentication:           true,
	apperrors.ErrCodeNotificationSendFailed:   true,
	apperrors.ErrCodeInternal:                 true,
}

// baseCodes are added to every new activity: every store-backed worker can
// reject its input or hit the database.
var baseCodes = []string{
	string(apperrors.ErrCodeInvalidInput),
	string(apperrors.ErrCodeNotFound),
	string(apperrors.ErrCodeQueryExecutionFailed),
	string(apperrors.ErrCodeDatabaseConnectionFailed),
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	if len(args) == 0 {
		help(out)
		return errors.New("no command given")
	}

	var registryPath string
	pathFlag := func(fs *flag.FlagSet) {
		fs.SetOutput(out)
		fs.StringVar(&registryPath, "path", "configs/activity-registry.json", "Path to registry file")
	}

	switch args[0] {
	case "add":
		fs := flag.NewFlagSet("add", flag.ContinueOnError)
		pathFlag(fs)
		id := fs.String("id", "", "Activity ID, also the Zeebe task type (e.g., reject-application)")
		displayName := fs.String("displayName", "", "Display name (e.g., Reject Application)")
		description := fs.String("description", "", "Description")
		category := fs.String("category", "", "Worker group: "+strings.Join(registry.Categories, ", "))
		status := fs.String("status", "planned", "Implementation status: "+strings.Join(registry.Statuses, ", "))
		codes := fs.String("errorCodes", "", "Comma-separated business error codes on top of the base codes")
		timeout := fs.String("timeout", "30s", "Job timeout")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" || *displayName == "" || *description == "" || *category == "" {
			fs.Usage()
			return errors.New("id, displayName, description and category are required for add")
		}

		activity := registry.Activity{
			ID:                   *id,
			DisplayName:          *displayName,
			Description:          *description,
			Category:             *category,
			Version:              "1.0.0",
			TaskType:             *id,
			ImplementationStatus: *status,
			InputSchema:          map[string]interface{}{"type": "object", "required": []interface{}{"caller"}},
			OutputSchema:         map[string]interface{}{"type": "object"},
			ErrorCodes:           mergeCodes(baseCodes, splitList(*codes)),
			Timeout:              *timeout,
			Retries:              3,
			Workflows:            []string{},
			Tags:                 []string{*category},
		}
		if err := addActivity(registryPath, &activity); err != nil {
			return fmt.Errorf("add activity: %w", err)
		}
		fmt.Fprintf(out, "Added activity %s to %s\n", activity.ID, activity.Category)

	case "update":
		fs := flag.NewFlagSet("update", flag.ContinueOnError)
		pathFlag(fs)
		id := fs.String("id", "", "Activity ID to update")
		field := fs.String("field", "", "Field to update (status, version, displayName, description, category, timeout, errorCodes, retries)")
		value := fs.String("value", "", "New value for the field")
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		if *id == "" || *field == "" || *value == "" {
			fs.Usage()
			return errors.New("id, field and value are required for update")
		}
		if err := updateActivity(registryPath, *id, *field, *value); err != nil {
			return fmt.Errorf("update activity: %w", err)
		}
		fmt.Fprintf(out, "Updated activity %s, field %s to %s\n", *id, *field, *value)

	case "validate":
		fs := flag.NewFlagSet("validate", flag.ContinueOnError)
		pathFlag(fs)
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		n, err := validateRegistry(registryPath)
		if err != nil {
			return fmt.Errorf("registry validation failed: %w", err)
		}
		fmt.Fprintf(out, "Registry validation passed: %d activities, every input schema compiles.\n", n)

	case "list":
		fs := flag.NewFlagSet("list", flag.ContinueOnError)
		pathFlag(fs)
		if err := fs.Parse(args[1:]); err != nil {
			return err
		}
		reg, err := registry.LoadRegistry(registryPath)
		if err != nil {
			return err
		}
		listActivities(out, reg)

	case "help":
		help(out)

	default:
		help(out)
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

// checkActivity enforces the rules every registry entry must meet.
func checkActivity(a *registry.Activity) error {
	switch {
	case a.ID == "":
		return errors.New("activity missing id")
	case a.DisplayName == "":
		return fmt.Errorf("activity %s missing displayName", a.ID)
	case a.TaskType == "":
		return fmt.Errorf("activity %s missing taskType", a.ID)
	}
	if !registry.ValidCategory(a.Category) {
		return fmt.Errorf("activity %s has category %q, want one of %s",
			a.ID, a.Category, strings.Join(registry.Categories, ", "))
	}
	if !registry.ValidStatus(a.ImplementationStatus) {
		return fmt.Errorf("activity %s has status %q, want one of %s",
			a.ID, a.ImplementationStatus, strings.Join(registry.Statuses, ", "))
	}
	for _, code := range a.ErrorCodes {
		if !knownCodes[apperrors.ErrorCode(code)] {
			return fmt.Errorf("activity %s lists unknown error code %s", a.ID, code)
		}
	}
	if a.Timeout != "" {
		if d, err := time.ParseDuration(a.Timeout); err != nil || d <= 0 {
			return fmt.Errorf("activity %s has invalid timeout %q", a.ID, a.Timeout)
		}
	}
	if a.Retries < 0 {
		return fmt.Errorf("activity %s has negative retries", a.ID)
	}
	return nil
}

func addActivity(path string, activity *registry.Activity) error {
	if err := checkActivity(activity); err != nil {
		return err
	}

	reg, err := registry.LoadRegistry(path)
	if errors.Is(err, os.ErrNotExist) {
		reg = &registry.ActivityRegistry{Version: "1.0.0"}
	} else if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	for _, existing := range reg.Activities {
		if existing.ID == activity.ID {
			return fmt.Errorf("activity with ID %s already exists", activity.ID)
		}
	}
	if _, taken := reg.Find(activity.TaskType); taken {
		return fmt.Errorf("task type %s is already served by another activity", activity.TaskType)
	}

	reg.Activities = append(reg.Activities, *activity)
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return registry.Save(reg, path)
}

func updateActivity(path, id, field, value string) error {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	var a *registry.Activity
	for i := range reg.Activities {
		if reg.Activities[i].ID == id {
			a = &reg.Activities[i]
			break
		}
	}
	if a == nil {
		return fmt.Errorf("activity with ID %s not found", id)
	}

	switch field {
	case "status":
		a.ImplementationStatus = value
	case "version":
		a.Version = value
	case "displayName":
		a.DisplayName = value
	case "description":
		a.Description = value
	case "category":
		a.Category = value
	case "timeout":
		a.Timeout = value
	case "errorCodes":
		a.ErrorCodes = splitList(value)
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}
	if err := checkActivity(a); err != nil {
		return err
	}

	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	return registry.Save(reg, path)
}

func validateRegistry(path string) (int, error) {
	reg, err := registry.LoadRegistry(path)
	if err != nil {
		return 0, fmt.Errorf("load registry: %w", err)
	}
	if len(reg.Activities) == 0 {
		return 0, errors.New("registry contains no activities")
	}

	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)
	for i := range reg.Activities {
		a := &reg.Activities[i]
		if err := checkActivity(a); err != nil {
			return 0, err
		}
		if ids[a.ID] {
			return 0, fmt.Errorf("duplicate activity ID: %s", a.ID)
		}
		if taskTypes[a.TaskType] {
			return 0, fmt.Errorf("duplicate task type: %s", a.TaskType)
		}
		ids[a.ID] = true
		taskTypes[a.TaskType] = true
	}

	if _, err := validation.NewSchemaValidator(reg); err != nil {
		return 0, err
	}
	return len(reg.Activities), nil
}

// listActivities prints the task types grouped by worker category.
func listActivities(out io.Writer, reg *registry.ActivityRegistry) {
	groups := make(map[string][]registry.Activity)
	for _, a := range reg.Activities {
		groups[a.Category] = append(groups[a.Category], a)
	}
	for _, category := range registry.Categories {
		acts := groups[category]
		if len(acts) == 0 {
			continue
		}
		sort.Slice(acts, func(i, j int) bool { return acts[i].TaskType < acts[j].TaskType })
		fmt.Fprintf(out, "%s:\n", category)
		for _, a := range acts {
			fmt.Fprintf(out, "  %-28s %-12s %s\n", a.TaskType, a.ImplementationStatus, a.Timeout)
		}
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func mergeCodes(base, extra []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, code := range append(append([]string{}, extra...), base...) {
		if !seen[code] {
			seen[code] = true
			out = append(out, code)
		}
	}
	return out
}

func help(out io.Writer) {
	fmt.Fprintln(out, `
Usage: registry-updater <command> [flags]

Commands:
  add       Add a grant worker activity to the registry
  update    Update a field of an existing activity
  validate  Check categories, error codes, timeouts and input schemas
  list      List task types grouped by worker category
  help      Show this help message

Examples:
  registry-updater add -id reject-milestone -displayName "Reject Milestone" -description "Sends a requested milestone back" -category milestone -errorCodes UNAUTHORIZED,INVALID_TRANSITION
  registry-updater update -id approve-milestone -field retries -value 5
  registry-updater validate -path configs/activity-registry.json

Use 'registry-updater <command> -h' for more information about a command.`)
}
