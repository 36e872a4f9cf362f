package main

import (
	"compress/gzip"
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"meshconv/config"
	"meshconv/converters"
	"meshconv/handlers"
)

func main() {
	// Optional .env for local development.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "meshconv",
		Usage: "HTTP service converting IGES CAD files to OBJ meshes via gmsh",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "port", Value: config.DefaultPort, EnvVars: []string{"PORT"}, Usage: "listen port"},
			&cli.StringFlag{Name: "runner", Value: config.DefaultRunner, EnvVars: []string{"MESH_RUNNER"}, Usage: "container runtime command prefix"},
			&cli.StringFlag{Name: "image", Value: config.DefaultImage, EnvVars: []string{"MESH_IMAGE"}, Usage: "container image providing the meshing tool"},
			&cli.StringFlag{Name: "tool", Value: config.DefaultTool, EnvVars: []string{"MESH_TOOL"}, Usage: "meshing tool binary inside the image"},
			&cli.StringFlag{Name: "mount", Value: config.DefaultMountPoint, EnvVars: []string{"MESH_MOUNT"}, Usage: "staging mount point inside the container"},
			&cli.DurationFlag{Name: "timeout", Value: config.DefaultTimeout, EnvVars: []string{"MESH_TIMEOUT"}, Usage: "conversion deadline"},
			&cli.StringFlag{Name: "staging-root", Value: os.TempDir(), EnvVars: []string{"MESH_STAGING_ROOT"}, Usage: "root directory for per-request staging"},
			&cli.StringFlag{Name: "static-dir", Value: config.DefaultStaticDir, EnvVars: []string{"MESH_STATIC_DIR"}, Usage: "directory holding the upload page"},
			&cli.Int64Flag{Name: "max-upload", Value: config.DefaultMaxUploadBytes, EnvVars: []string{"MESH_MAX_UPLOAD"}, Usage: "upload size limit in bytes"},
			&cli.StringFlag{Name: "log-level", Value: "info", EnvVars: []string{"LOG_LEVEL"}, Usage: "debug, info, warn, or error"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatalf("meshconv failed: %v", err)
	}
}

func run(c *cli.Context) error {
	cfg := config.Config{
		Port:           c.String("port"),
		Runner:         c.String("runner"),
		Image:          c.String("image"),
		Tool:           c.String("tool"),
		MountPoint:     c.String("mount"),
		Timeout:        c.Duration("timeout"),
		StagingRoot:    c.String("staging-root"),
		StaticDir:      c.String("static-dir"),
		MaxUploadBytes: c.Int64("max-upload"),
	}

	logger := logrus.New()
	logger.SetLevel(config.ParseLogLevel(c.String("log-level")))
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	converter := converters.NewGmshConverter(cfg, logger)
	h := handlers.NewConversionHandler(cfg, converter, logger)

	handler := withHeaders(withGzip(cors.Default().Handler(h.Routes())))

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler,
		// Write timeout must outlast the conversion deadline.
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   cfg.Timeout + 30*time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on :%s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Infof("received %s, shutting down", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(ctx)
	}
}

// withHeaders adds security headers
func withHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// withGzip adds gzip compression
func withGzip(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		defer gz.Close()

		gzw := &gzipWriter{Writer: gz, ResponseWriter: w}
		next.ServeHTTP(gzw, r)
	})
}

// gzipWriter wraps gzip.Writer for http.ResponseWriter
type gzipWriter struct {
	Writer         *gzip.Writer
	ResponseWriter http.ResponseWriter
}

func (g *gzipWriter) Header() http.Header {
	return g.ResponseWriter.Header()
}

func (g *gzipWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

func (g *gzipWriter) WriteHeader(statusCode int) {
	g.ResponseWriter.WriteHeader(statusCode)
}
