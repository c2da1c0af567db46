package am

import (
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/cadence/errors"
	"github.com/teranos/cadence/logger"
)

// AddJob appends a [[jobs]] definition to the config file at configPath,
// creating the file when it does not exist. The previous content is kept in
// rotating .back1 to .back3 backups. Comments in the file are not preserved.
func AddJob(configPath string, job JobConfig) error {
	job.JobType = strings.TrimSpace(job.JobType)
	job.Cron = strings.TrimSpace(job.Cron)
	if job.JobType == "" || job.Cron == "" {
		return errors.New("job_type and cron are required")
	}

	data := map[string]interface{}{}
	content, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		if err := toml.Unmarshal(content, &data); err != nil {
			return errors.Wrapf(err, "failed to parse %s", configPath)
		}
	case os.IsNotExist(err):
	default:
		return errors.Wrapf(err, "failed to read %s", configPath)
	}

	existing, _ := data["jobs"].([]interface{})
	for _, entry := range existing {
		if m, ok := entry.(map[string]interface{}); ok && m["job_type"] == job.JobType {
			return errors.Newf("job %q is already defined in %s", job.JobType, configPath)
		}
	}
	data["jobs"] = append(existing, map[string]interface{}{
		"job_type": job.JobType,
		"cron":     job.Cron,
	})

	out, err := toml.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := createBackup(configPath); err != nil {
		return err
	}
	if err := os.WriteFile(configPath, out, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// createBackup rotates .back1, .back2, .back3 before the config is modified
func createBackup(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	back3 := configPath + ".back3"
	back2 := configPath + ".back2"
	back1 := configPath + ".back1"

	if err := os.Remove(back3); err != nil && !os.IsNotExist(err) {
		logger.Warnw("Failed to delete old config backup", "path", back3, logger.FieldError, err)
	}

	if _, err := os.Stat(back2); err == nil {
		if err := os.Rename(back2, back3); err != nil {
			return errors.Wrap(err, "failed to rotate .back2 to .back3")
		}
	}
	if _, err := os.Stat(back1); err == nil {
		if err := os.Rename(back1, back2); err != nil {
			return errors.Wrap(err, "failed to rotate .back1 to .back2")
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	if err := os.WriteFile(back1, content, 0o644); err != nil {
		return errors.Wrap(err, "failed to create .back1")
	}
	return nil
}
