/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/shopfloor/internal/cache"
	"github.com/friendsincode/shopfloor/internal/db"
	"github.com/friendsincode/shopfloor/internal/models"
	"github.com/friendsincode/shopfloor/internal/workcenter"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create or update work centers from a YAML file",
	Long: `Load work centers from a YAML file.

Work centers are matched by department and name. Missing ones are created,
existing ones get their capacity and active flag updated. Capacity changes
are refused when upcoming slots already need more.

Example file:

  work_centers:
    - name: Karussell 1
      department: SIEBDRUCK
      capacity: 2
    - name: Stickmaschine 6K
      department: STICKEREI
      capacity: 1
      active: false

Examples:
  shopfloor seed --file work_centers.yaml
`,
	RunE: runSeed,
}

func init() {
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "", "YAML file with work centers")
	_ = seedCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(seedCmd)
}

type seedDocument struct {
	WorkCenters []seedWorkCenter `yaml:"work_centers"`
}

type seedWorkCenter struct {
	Name       string            `yaml:"name"`
	Department models.Department `yaml:"department"`
	Capacity   int               `yaml:"capacity"`
	Active     *bool             `yaml:"active"`
}

// parseSeed decodes a seed document and rejects entries the service would refuse.
func parseSeed(r io.Reader) ([]seedWorkCenter, error) {
	var doc seedDocument
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("seed file is empty")
		}
		return nil, fmt.Errorf("decode seed file: %w", err)
	}

	seen := make(map[string]bool, len(doc.WorkCenters))
	for i, wc := range doc.WorkCenters {
		switch {
		case wc.Name == "":
			return nil, fmt.Errorf("work center %d: name is required", i+1)
		case !wc.Department.Valid():
			return nil, fmt.Errorf("work center %q: unknown department %q", wc.Name, wc.Department)
		case wc.Capacity < 1:
			return nil, fmt.Errorf("work center %q: capacity must be at least 1", wc.Name)
		}
		key := string(wc.Department) + "/" + wc.Name
		if seen[key] {
			return nil, fmt.Errorf("work center %q listed twice for %s", wc.Name, wc.Department)
		}
		seen[key] = true
	}
	return doc.WorkCenters, nil
}

func runSeed(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(seedFile)
	if err != nil {
		return fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	entries, err := parseSeed(f)
	if err != nil {
		return err
	}

	database, err := db.Connect(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close(database) }()
	if err := db.Migrate(database); err != nil {
		return err
	}

	// Running servers share the Redis cache, so seeding must invalidate it too.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = cfg.RedisAddr
	cacheCfg.RedisPassword = cfg.RedisPassword
	cacheCfg.RedisDB = cfg.RedisDB
	entityCache := cache.Open(cfg.CacheEnabled, cacheCfg, logger)
	defer entityCache.Close()

	svc := workcenter.NewService(database, entityCache, nil, cfg.Location, logger)
	created, updated, err := applySeed(cmd.Context(), svc, entries)
	if err != nil {
		return err
	}
	logger.Info().Int("created", created).Int("updated", updated).Str("file", seedFile).Msg("work centers seeded")
	return nil
}

// applySeed creates missing work centers and updates existing ones in place.
func applySeed(ctx context.Context, svc *workcenter.Service, entries []seedWorkCenter) (created, updated int, err error) {
	existing, err := svc.List(ctx, "")
	if err != nil {
		return 0, 0, err
	}
	byKey := make(map[string]models.WorkCenter, len(existing))
	for _, wc := range existing {
		byKey[string(wc.Department)+"/"+wc.Name] = wc
	}

	for _, entry := range entries {
		current, ok := byKey[string(entry.Department)+"/"+entry.Name]
		if !ok {
			if _, err := svc.Create(ctx, workcenter.CreateRequest{
				Name:       entry.Name,
				Department: entry.Department,
				Capacity:   entry.Capacity,
				Active:     entry.Active,
			}); err != nil {
				return created, updated, fmt.Errorf("create work center %q: %w", entry.Name, err)
			}
			created++
			continue
		}

		capacity := entry.Capacity
		active := current.Active
		if entry.Active != nil {
			active = *entry.Active
		}
		if capacity == current.Capacity && active == current.Active {
			continue
		}
		if _, err := svc.Update(ctx, current.ID, workcenter.UpdateRequest{Capacity: &capacity, Active: &active}); err != nil {
			return created, updated, fmt.Errorf("update work center %q: %w", entry.Name, err)
		}
		updated++
	}
	return created, updated, nil
}
