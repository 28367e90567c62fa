package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"taskmill/internal/task"
)

func parseTaskID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid task id %q", arg)
	}
	return id, nil
}

func parseTaskIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := parseTaskID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func parseStatusArg(value string) (task.Status, error) {
	status, ok := task.ParseStatus(value)
	if !ok {
		names := make([]string, 0, len(task.AllStatuses()))
		for _, s := range task.AllStatuses() {
			names = append(names, string(s))
		}
		return "", fmt.Errorf("unknown status %q (one of: %s)", value, strings.Join(names, ", "))
	}
	return status, nil
}

func parseReviewStatusArg(value string) (task.ReviewStatus, error) {
	status, ok := task.ParseReviewStatus(value)
	if !ok {
		return "", fmt.Errorf("unknown review decision %q", value)
	}
	return status, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatUserPtr(id *int64) string {
	if id == nil {
		return "-"
	}
	return strconv.FormatInt(*id, 10)
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
