package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fieldplan/internal/config"
	"fieldplan/internal/domain"
	"fieldplan/internal/engine"
	"fieldplan/internal/geo"
	"fieldplan/internal/headloss"
	"fieldplan/internal/session"
)

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectConfigCmd())
	return prj
}

func projectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListProjects(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Created"})
				for _, p := range items {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func projectCreateCmd() *cobra.Command {
	var id, name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		Long:  "Creates a project with the default config. Without --id a UUID is generated.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.InitProject(ctx, id, name, desc, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "project id")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				p, err := e.Repo.GetProject(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a project with its sessions, plans and head-loss records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withWorkspace(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.DeleteProject(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Printf("Deleted project %s\n", args[0])
				return nil
			})
		},
	}
}

func projectConfigCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Manage project config",
	}
	cfg.AddCommand(projectConfigShowCmd())
	cfg.AddCommand(projectConfigImportCmd())
	return cfg
}

func projectConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show project config stored in DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				cfg, err := e.ProjectConfig(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cfg)
				}
				text, err := cfg.YAML()
				if err != nil {
					return err
				}
				fmt.Print(text)
				return nil
			})
		},
	}
}

func projectConfigImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import project config from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			if viper.GetString("project") == "" && cfg.Project.ID != "" {
				viper.Set("project", cfg.Project.ID)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				cfg.Project.ID = projectID
				if err := e.ImportConfig(ctx, projectID, viper.GetString("actor-id"), cfg); err != nil {
					return err
				}
				fmt.Printf("Imported config for project %s\n", projectID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func sessionCmd() *cobra.Command {
	sess := &cobra.Command{Use: "session", Short: "Work with the draft session"}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the draft session as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.LoadSession(ctx, projectID)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}

	var actionsFile string
	var inline []string
	apply := &cobra.Command{
		Use:   "apply",
		Short: "Apply drawing actions",
		Long: `Applies actions in order. --file takes a JSON array of actions ("-" reads stdin);
--action takes one JSON action and may repeat, e.g.
  fp session apply --action '{"type":"start_draw"}' --action '{"type":"add_vertex","coordinate":{"lat":1,"lng":2}}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var envs []session.Envelope
			if actionsFile != "" {
				data, err := readInput(actionsFile)
				if err != nil {
					return err
				}
				if err := json.Unmarshal(data, &envs); err != nil {
					return fmt.Errorf("parse actions: %w", err)
				}
			}
			for _, raw := range inline {
				var env session.Envelope
				if err := json.Unmarshal([]byte(raw), &env); err != nil {
					return fmt.Errorf("parse action %q: %w", raw, err)
				}
				envs = append(envs, env)
			}
			if len(envs) == 0 {
				return fmt.Errorf("no actions given; use --file or --action")
			}
			actions, err := session.DecodeAll(envs)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.ApplyActions(ctx, projectID, viper.GetString("actor-id"), actions...)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(s)
				}
				fmt.Printf("Stage: %s  zones: %d  obstacles: %d  pipes: %d  equipment: %d\n",
					s.Stage, len(s.Zones), len(s.Obstacles), len(s.Pipes), len(s.Equipment))
				return nil
			})
		},
	}
	apply.Flags().StringVar(&actionsFile, "file", "", "JSON array of actions")
	apply.Flags().StringArrayVar(&inline, "action", nil, "single JSON action (repeatable)")

	reset := &cobra.Command{
		Use:   "reset",
		Short: "Discard the draft session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				if err := e.ResetSession(ctx, projectID, viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("Draft discarded")
				return nil
			})
		},
	}

	var geoFile, category string
	importGeo := &cobra.Command{
		Use:   "import-geojson",
		Short: "Commit polygons from a GeoJSON file to the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(geoFile)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.ImportGeoJSON(ctx, projectID, viper.GetString("actor-id"), data, domain.ShapeCategory(category))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]int{"zones": len(s.Zones), "obstacles": len(s.Obstacles)})
			})
		},
	}
	importGeo.Flags().StringVar(&geoFile, "file", "", "GeoJSON file")
	importGeo.Flags().StringVar(&category, "category", string(domain.CategoryZone), "category for features without one")
	_ = importGeo.MarkFlagRequired("file")

	sess.AddCommand(show, apply, reset, importGeo)
	return sess
}

func planCmd() *cobra.Command {
	p := &cobra.Command{Use: "plan", Short: "Save and inspect plan versions"}

	var note string
	save := &cobra.Command{
		Use:   "save",
		Short: "Save the draft as a new plan version",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				pv, err := e.SavePlan(ctx, projectID, viper.GetString("actor-id"), note)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					pv.SessionJSON = ""
					return printJSON(pv)
				}
				fmt.Printf("Saved plan version %d\n", pv.Version)
				return nil
			})
		},
	}
	save.Flags().StringVar(&note, "note", "", "note stored with the version")

	list := &cobra.Command{
		Use:   "list",
		Short: "List plan versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListPlanVersions(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Version", "Saved at", "By", "Note"})
				for _, pv := range items {
					tw.AppendRow(table.Row{pv.Version, pv.SavedAt, pv.SavedBy, pv.Note})
				}
				tw.Render()
				return nil
			})
		},
	}

	show := &cobra.Command{
		Use:   "show <version>",
		Short: "Print a plan version's session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			version, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("version: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				s, err := e.PlanSession(ctx, projectID, version)
				if err != nil {
					return err
				}
				return printJSON(s)
			})
		},
	}

	var version int
	var out string
	export := &cobra.Command{
		Use:   "export",
		Short: "Export a plan version as GeoJSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				data, err := e.ExportGeoJSON(ctx, projectID, version)
				if err != nil {
					return err
				}
				if out == "" || out == "-" {
					_, err = os.Stdout.Write(append(data, '\n'))
					return err
				}
				return os.WriteFile(out, data, 0o644)
			})
		},
	}
	export.Flags().IntVar(&version, "version", 0, "plan version (0 exports the draft)")
	export.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")

	p.AddCommand(save, list, show, export)
	return p
}

func progressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "progress",
		Short: "Show the workflow checklist",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				sum, err := e.Progress(ctx, projectID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(sum)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Step", "Required", "Done"})
				for _, st := range sum.Steps {
					tw.AppendRow(table.Row{st.Label, st.Required, st.Done})
				}
				tw.AppendFooter(table.Row{"Progress", fmt.Sprintf("%d/%d", sum.RequiredDone, sum.RequiredTotal), fmt.Sprintf("%d%%", sum.Percent)})
				tw.Render()
				return nil
			})
		},
	}
}

func routeCmd() *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Route a pipe around the draft's obstacles",
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := parseCoord(from)
			if err != nil {
				return err
			}
			end, err := parseCoord(to)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				res, err := e.RoutePipe(ctx, projectID, start, end)
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start as lat,lng")
	cmd.Flags().StringVar(&to, "to", "", "end as lat,lng")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func geoCmd() *cobra.Command {
	g := &cobra.Command{Use: "geo", Short: "Geometry helpers"}

	var a, b string
	distance := &cobra.Command{
		Use:   "distance",
		Short: "Great-circle distance in meters",
		RunE: func(cmd *cobra.Command, args []string) error {
			ca, err := parseCoord(a)
			if err != nil {
				return err
			}
			cb, err := parseCoord(b)
			if err != nil {
				return err
			}
			for _, c := range []domain.Coordinate{ca, cb} {
				if err := geo.ValidateCoordinate(c); err != nil {
					return err
				}
			}
			return printJSONOrTable(map[string]float64{"meters": geo.Distance(ca, cb)})
		},
	}
	distance.Flags().StringVar(&a, "a", "", "first point as lat,lng")
	distance.Flags().StringVar(&b, "b", "", "second point as lat,lng")

	var points string
	var scale float64
	area := &cobra.Command{
		Use:   "area",
		Short: "Polygon area",
		RunE: func(cmd *cobra.Command, args []string) error {
			poly, err := parsePolygon(points)
			if err != nil {
				return err
			}
			if len(poly) < 3 {
				return fmt.Errorf("a polygon needs at least 3 points")
			}
			return printJSONOrTable(map[string]float64{
				"area":          geo.PolygonArea(poly),
				"square_meters": geo.AreaSquareMeters(poly, scale),
			})
		},
	}
	area.Flags().StringVar(&points, "points", "", "vertices as lat,lng;lat,lng;...")
	area.Flags().Float64Var(&scale, "scale", geo.DefaultAreaScale, "square meters per squared input unit")

	g.AddCommand(distance, area)
	return g
}

func headlossCmd() *cobra.Command {
	h := &cobra.Command{Use: "headloss", Short: "Head-loss calculator"}

	var k, length, factor string
	calc := &cobra.Command{
		Use:   "calc",
		Short: "Evaluate head loss without storing it",
		RunE: func(cmd *cobra.Command, args []string) error {
			form := headloss.NewForm(headloss.DefaultLimits())
			_ = form.Set(headloss.FieldLossCoefficient, k)
			_ = form.Set(headloss.FieldPipeLength, length)
			_ = form.Set(headloss.FieldCorrectionFactor, factor)
			value, ok := form.Result()
			if !ok {
				for field, err := range form.Errors() {
					fmt.Fprintf(os.Stderr, "%s: %v\n", field, err)
				}
				return fmt.Errorf("head loss unavailable")
			}
			return printJSONOrTable(map[string]float64{"head_loss": value})
		},
	}
	calc.Flags().StringVar(&k, "k", "", "loss coefficient")
	calc.Flags().StringVar(&length, "length", "", "pipe length")
	calc.Flags().StringVar(&factor, "factor", "", "correction factor")

	var pipeID, zoneID string
	var in headloss.Inputs
	record := &cobra.Command{
		Use:   "record",
		Short: "Record head loss for a pipe of the draft",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				rec, err := e.RecordHeadLoss(ctx, projectID, viper.GetString("actor-id"), pipeID, zoneID, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	record.Flags().StringVar(&pipeID, "pipe", "", "pipe id")
	record.Flags().StringVar(&zoneID, "zone", "", "zone id (defaults to the pipe's zone)")
	record.Flags().Float64Var(&in.LossCoefficient, "k", 0, "loss coefficient")
	record.Flags().Float64Var(&in.PipeLength, "length", 0, "pipe length")
	record.Flags().Float64Var(&in.CorrectionFactor, "factor", 0, "correction factor")
	_ = record.MarkFlagRequired("pipe")

	var filterPipe string
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded head-loss calculations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, projectID string) error {
				items, err := e.ListHeadLoss(ctx, projectID, filterPipe)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Pipe", "Zone", "k", "Length", "Factor", "Head loss", "By", "At"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.PipeID, r.ZoneID, r.LossCoefficient, r.PipeLength, r.CorrectionFactor, r.HeadLoss, r.ActorID, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&filterPipe, "pipe", "", "only this pipe")

	h.AddCommand(calc, record, list)
	return h
}
