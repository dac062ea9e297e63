package config

import "strings"

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeQueue()
	return c.normalizeBlobStore()
}

func (c *Config) normalizePaths() error {
	for _, field := range []*string{&c.Paths.DataDir, &c.Paths.WorkDir, &c.Paths.LogDir} {
		if strings.TrimSpace(*field) == "" {
			continue
		}
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFmt
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}

func (c *Config) normalizeQueue() {
	if c.Queue.MaxAttempts <= 0 {
		c.Queue.MaxAttempts = defaultMaxAttempts
	}
	if c.Queue.Workers <= 0 {
		c.Queue.Workers = defaultWorkers
	}
	if c.Queue.DispatchDeadlineSec <= 0 {
		c.Queue.DispatchDeadlineSec = defaultDispatchDeadlineSec
	}
	if c.Queue.TranscribeDeadlineMin <= 0 {
		c.Queue.TranscribeDeadlineMin = defaultTranscribeMin
	}
	c.Queue.SubjectPrefix = strings.Trim(strings.TrimSpace(c.Queue.SubjectPrefix), ".")
	if c.Queue.SubjectPrefix == "" {
		c.Queue.SubjectPrefix = defaultSubjectPrefix
	}
}

func (c *Config) normalizeBlobStore() error {
	c.BlobStore.Backend = strings.ToLower(strings.TrimSpace(c.BlobStore.Backend))
	if c.BlobStore.Backend == "" {
		c.BlobStore.Backend = defaultBlobBackend
	}
	if c.BlobStore.Backend == "fs" && strings.TrimSpace(c.BlobStore.Root) != "" {
		expanded, err := expandPath(c.BlobStore.Root)
		if err != nil {
			return err
		}
		c.BlobStore.Root = expanded
	}
	if c.BlobStore.SignedURLTTL <= 0 {
		c.BlobStore.SignedURLTTL = defaultSignedURLTTL
	}
	return nil
}
