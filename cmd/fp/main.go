package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"fieldplan/internal/app"
	"fieldplan/internal/db"
	"fieldplan/internal/domain"
	"fieldplan/internal/engine"
	"fieldplan/internal/logging"
	"fieldplan/internal/migrate"
	"fieldplan/internal/observability"
	"fieldplan/internal/outbox"
	"fieldplan/internal/server"
)

var (
	logger        = zap.NewNop()
	shutdownTrace = func(context.Context) error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "fp",
	Short: "Fieldplan CLI",
	Long: `Fieldplan lays out irrigation plans on a map.
Core concepts:
- Workspace: a .fieldplan directory holding the database; project configs live in the DB and are imported explicitly.
- Project: one farm or site with its own config, draft session and saved plans.
- Session: the draft drawing state. It moves through the field, zones, pipes and irrigation stages.
- Actions: JSON drawing commands (start_draw, add_vertex, finish_draw, place_equipment...) applied to the draft in order.
- Plans: immutable numbered snapshots of the draft, exportable as GeoJSON.
- Head loss: calculator inputs recorded per pipe; records are append-only.
- Event log: every change, view with 'fp log tail'; 'fp serve' forwards it to webhooks and Kafka.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		l, err := logging.New(viper.GetBool("verbose"))
		if err != nil {
			return err
		}
		logger = l
		shutdown, err := observability.InitTracing(cmd.Context(), observability.TracingConfigFromEnv(), logger)
		if err != nil {
			return err
		}
		shutdownTrace = shutdown
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		observability.ShutdownWithTimeout(context.Background(), shutdownTrace, logger)
		_ = logger.Sync()
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("FIELDPLAN")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().String("project", "", "project id (defaults to the only project)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "debug logging")
	for _, name := range []string{"workspace", "json", "actor-id", "project", "verbose"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(sessionCmd())
	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(progressCmd())
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(geoCmd())
	rootCmd.AddCommand(headlossCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server and event dispatcher",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			workspace := viper.GetString("workspace")
			conn, err := db.Open(ctx, db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if _, err := migrate.Migrate(ctx, conn); err != nil {
				return err
			}
			metrics, err := observability.NewMetrics(prometheus.DefaultRegisterer)
			if err != nil {
				return err
			}
			e := engine.New(conn, logger, metrics)
			authCfg := server.AuthConfig{JWTSecret: viper.GetString("jwt-secret")}
			if authCfg.JWTSecret == "" {
				logger.Warn("FIELDPLAN_JWT_SECRET not set; requests are attributed via X-Actor-Id")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg, Log: logger, Metrics: metrics})
			if err != nil {
				return err
			}

			dispatcher := &outbox.Dispatcher{Repo: e.Repo, Interval: interval, Log: logger, Metrics: metrics}
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = dispatcher.Run(ctx)
			}()

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(shutdownCtx)
			}()
			logger.Info("serving fieldplan api",
				zap.String("addr", addr),
				zap.String("base_path", basePath),
				zap.Duration("dispatch_interval", interval),
			)
			fmt.Printf("Serving Fieldplan API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs, metrics at /metrics)\n", addr, basePath, basePath)
			err = srv.ListenAndServe()
			cancel()
			wg.Wait()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().DurationVar(&interval, "dispatch-interval", 2*time.Second, "event dispatch poll interval")
	return cmd
}

func tokenCmd() *cobra.Command {
	tok := &cobra.Command{Use: "token", Short: "Manage API bearer tokens"}
	var actor string
	var ttl time.Duration
	mint := &cobra.Command{
		Use:   "mint",
		Short: "Sign a bearer token with FIELDPLAN_JWT_SECRET",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("FIELDPLAN_JWT_SECRET is required")
			}
			if actor == "" {
				actor = viper.GetString("actor-id")
			}
			token, err := server.SignToken(secret, actor, ttl, time.Now())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]string{"actor_id": actor, "token": token})
			}
			fmt.Println(token)
			return nil
		},
	}
	mint.Flags().StringVar(&actor, "actor", "", "token subject (defaults to --actor-id)")
	mint.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime; 0 never expires")
	tok.AddCommand(mint)
	return tok
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the newest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				events, err := e.Repo.LatestEvents(ctx, n, 0, projectID, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Actor", "Payload"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + ":" + evt.EntityID, evt.ActorID, evt.Payload})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVarP(&n, "n", "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	lg.AddCommand(tail)
	return lg
}

// withEngine opens the workspace and resolves the active project.
func withEngine(ctx context.Context, fn func(context.Context, engine.Engine, string) error) error {
	return withWorkspace(ctx, func(ctx context.Context, e engine.Engine) error {
		projectID, _, err := app.ResolveProjectAndConfig(ctx, e, viper.GetString("project"), viper.GetString("actor-id"))
		if err != nil {
			return err
		}
		return fn(ctx, e, projectID)
	})
}

// withWorkspace opens the workspace without selecting a project.
func withWorkspace(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(ctx, db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if _, err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, logger, nil))
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseCoord reads "lat,lng".
func parseCoord(s string) (domain.Coordinate, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return domain.Coordinate{}, fmt.Errorf("coordinate %q: want lat,lng", s)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil {
		return domain.Coordinate{}, fmt.Errorf("coordinate %q: %w", s, err)
	}
	return domain.Coordinate{Lat: lat, Lng: lng}, nil
}

// parsePolygon reads "lat,lng;lat,lng;...".
func parsePolygon(s string) ([]domain.Coordinate, error) {
	var out []domain.Coordinate
	for _, part := range strings.Split(s, ";") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		c, err := parseCoord(part)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
