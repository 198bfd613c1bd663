package main

import (
	"fmt"
	"log"
	"os"

	"github.com/gofiber/fiber/v3"

	"github.com/malsift/malsift/pkg/allowlist"
	"github.com/malsift/malsift/pkg/cache"
	"github.com/malsift/malsift/pkg/config"
	"github.com/malsift/malsift/pkg/httputil"
	"github.com/malsift/malsift/pkg/report"
	"github.com/malsift/malsift/pkg/scan"
	"github.com/malsift/malsift/pkg/unit"
)

// maxConcurrentScans bounds in-flight scan requests; regex passes over large
// decompilations are CPU-heavy and queueing beyond this just adds latency.
const maxConcurrentScans = 8

func runServe(args []string) {
	port := "3000"
	if len(args) > 0 {
		port = args[0]
	}

	cfg := config.NewDefaultConfig()
	allow := allowlist.New(os.Getenv("MALSIFT_ALLOWLIST_FILE"), cfg.AllowlistOverrides)
	scanner, err := scan.NewScanner(cfg, allow)
	if err != nil {
		log.Fatalf("scanner: %v", err)
	}

	// Scan cache is optional; the service runs fine without Redis.
	var scanCache *cache.Cache
	if os.Getenv("MALSIFT_REDIS_ADDR") != "" {
		scanCache, err = cache.New(cache.Config{})
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] Scan cache disabled: %v\n", err)
			scanCache = nil
		} else {
			fmt.Fprintf(os.Stderr, "[INFO] Scan cache enabled\n")
		}
	}
	fingerprint := cache.Fingerprint(cfg)

	sem := httputil.NewSemaphore(maxConcurrentScans)

	app := fiber.New(fiber.Config{
		AppName: "malsift",
	})

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"version": Version,
			"scans":   sem.Stats(),
		})
	})

	// Scan a single unit. Cached results are served without re-running the
	// regex pass; the cache key binds the text to the active configuration.
	app.Post("/scan/unit", func(c fiber.Ctx) error {
		var req struct {
			Name string `json:"name"`
			Text string `json:"text"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if req.Text == "" {
			return c.Status(400).JSON(fiber.Map{"error": "text field is required"})
		}
		if req.Name == "" {
			req.Name = "unit"
		}

		if !sem.TryAcquire() {
			return c.Status(503).JSON(fiber.Map{"error": "scanner busy"})
		}
		defer sem.Release()

		u := unit.Unit{ID: unit.DeriveID(req.Name + req.Text), Name: req.Name, Text: req.Text}

		if scanCache != nil {
			key := cache.Key(u, fingerprint)
			if cached, found, err := scanCache.Get(c.Context(), key); err == nil && found {
				return c.JSON(fiber.Map{"cached": true, "result": cached})
			}
			res, err := scanner.ScanUnit(u)
			if err != nil {
				return c.Status(422).JSON(fiber.Map{"error": err.Error()})
			}
			if err := scanCache.Put(c.Context(), key, &res); err != nil {
				fmt.Fprintf(os.Stderr, "[WARN] Cache put failed: %v\n", err)
			}
			return c.JSON(fiber.Map{"cached": false, "result": res})
		}

		res, err := scanner.ScanUnit(u)
		if err != nil {
			return c.Status(422).JSON(fiber.Map{"error": err.Error()})
		}
		return c.JSON(fiber.Map{"cached": false, "result": res})
	})

	// Scan a batch of units with the full ordering, capping, and dedup pass.
	app.Post("/scan", func(c fiber.Ctx) error {
		var req struct {
			Units []struct {
				Name string `json:"name"`
				Text string `json:"text"`
			} `json:"units"`
		}
		if err := c.Bind().Body(&req); err != nil {
			return c.Status(400).JSON(fiber.Map{"error": "invalid request"})
		}
		if len(req.Units) == 0 {
			return c.Status(400).JSON(fiber.Map{"error": "units field is required"})
		}

		if !sem.TryAcquire() {
			return c.Status(503).JSON(fiber.Map{"error": "scanner busy"})
		}
		defer sem.Release()

		units := make([]unit.Unit, 0, len(req.Units))
		for _, ru := range req.Units {
			if ru.Text == "" {
				continue
			}
			name := ru.Name
			if name == "" {
				name = "unit"
			}
			units = append(units, unit.Unit{
				ID:   unit.DeriveID(name + ru.Text),
				Name: name,
				Text: ru.Text,
			})
		}

		res := scanner.ScanBatch(c.Context(), units)
		return c.JSON(report.NewBatch(res))
	})

	log.Printf("malsift v%s listening on :%s", Version, port)
	if err := app.Listen(":" + port); err != nil {
		log.Fatalf("server: %v", err)
	}
}
