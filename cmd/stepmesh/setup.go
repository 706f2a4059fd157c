package main

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hupe1980/stepmesh"
	"github.com/hupe1980/stepmesh/config"
	"github.com/hupe1980/stepmesh/engine"
)

func loadConfig(flags *rootFlags) (config.Config, error) {
	cfg := config.Default()
	if flags.configPath != "" {
		var err error
		if cfg, err = config.Load(flags.configPath); err != nil {
			return config.Config{}, err
		}
	}
	if flags.provider != "" {
		cfg.Model.Provider = flags.provider
	}
	if flags.modelName != "" {
		cfg.Model.Name = flags.modelName
	}
	if flags.logLevel != "" {
		cfg.Logging.Level = flags.logLevel
	}
	return cfg, cfg.Validate()
}

// setup builds and starts a StepMesh with the built-in tools.
func setup(ctx context.Context, flags *rootFlags) (*stepmesh.StepMesh, error) {
	cfg, err := loadConfig(flags)
	if err != nil {
		return nil, err
	}
	mesh, err := stepmesh.New(func(o *stepmesh.Options) {
		o.Config = cfg
		o.Tools = builtinTools()
	})
	if err != nil {
		return nil, err
	}
	if err := mesh.Start(ctx); err != nil {
		return nil, err
	}
	return mesh, nil
}

func readAttachments(paths []string) ([]engine.Attachment, error) {
	attachments := make([]engine.Attachment, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read attachment: %w", err)
		}
		mimeType := mime.TypeByExtension(filepath.Ext(p))
		if mimeType == "" {
			mimeType = http.DetectContentType(data)
		}
		attachments = append(attachments, engine.Attachment{
			Name:     filepath.Base(p),
			MimeType: mimeType,
			Data:     data,
		})
	}
	return attachments, nil
}
