package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/fovguard/internal/api"
	"github.com/banshee-data/fovguard/internal/charts"
	"github.com/banshee-data/fovguard/internal/config"
	"github.com/banshee-data/fovguard/internal/db"
	"github.com/banshee-data/fovguard/internal/fov"
	"github.com/banshee-data/fovguard/internal/geometry"
	"github.com/banshee-data/fovguard/internal/monitoring"
	"github.com/banshee-data/fovguard/internal/scene"
	"github.com/banshee-data/fovguard/internal/security"
	"github.com/banshee-data/fovguard/internal/validation"
)

// errClogged marks a successful run whose answer is "clogged".
var errClogged = errors.New("field of view clogged")

func exitCode(err error) int {
	if errors.Is(err, errClogged) {
		return 2
	}
	return 1
}

// poseFlags collects repeated -set frame=x,y,z[,roll,pitch,yaw] values.
type poseFlags map[string]geometry.Pose

func (p poseFlags) String() string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	return strings.Join(names, ",")
}

func (p poseFlags) Set(v string) error {
	name, values, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("want frame=x,y,z[,roll,pitch,yaw], got %q", v)
	}
	parts := strings.Split(values, ",")
	if len(parts) != 3 && len(parts) != 6 {
		return fmt.Errorf("frame %s: want 3 or 6 numbers, got %d", name, len(parts))
	}
	var spec scene.PoseSpec
	for i, s := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return fmt.Errorf("frame %s: %w", name, err)
		}
		if i < 3 {
			spec.Translation[i] = f
		} else {
			spec.RPY[i-3] = f
		}
	}
	p[name] = spec.Pose()
	return nil
}

// commonFlags are shared by the commands that work on a scene.
type commonFlags struct {
	scene  *string
	config *string
	dbPath *string
	groups *string
}

func addCommonFlags(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		scene:  fs.String("scene", "", "Scene description file (required)"),
		config: fs.String("config", "", "Tuning configuration file (.json)"),
		dbPath: fs.String("db", "", "SQLite database path"),
		groups: fs.String("groups", "", "Comma-separated stored feature groups to check as well (needs -db)"),
	}
}

// workspace is everything a check needs, loaded from the common flags.
type workspace struct {
	cfg    *config.TuningConfig
	desc   *scene.Description
	scene  *scene.Scene
	groups []*fov.FeatureGroup
	db     *db.DB
}

func (w *workspace) Close() {
	if w.db != nil {
		w.db.Close()
	}
}

func loadConfig(path string) (*config.TuningConfig, error) {
	cfg := config.DefaultTuningConfig()
	if path != "" {
		var err error
		if cfg, err = config.LoadTuningConfig(path); err != nil {
			return nil, err
		}
	}
	monitoring.SetVerbose(cfg.GetVerbose())
	return cfg, nil
}

func loadWorkspace(c commonFlags, needScene bool) (*workspace, error) {
	cfg, err := loadConfig(*c.config)
	if err != nil {
		return nil, err
	}
	w := &workspace{cfg: cfg}

	if *c.scene == "" {
		if needScene {
			return nil, errors.New("-scene is required")
		}
	} else {
		if w.desc, err = scene.Load(*c.scene); err != nil {
			return nil, err
		}
		if w.scene, err = w.desc.Build(); err != nil {
			return nil, err
		}
		if w.groups, err = w.desc.FeatureGroups(cfg.GetDefaultDepthMargin(), cfg.GetDefaultSizeMargin()); err != nil {
			return nil, err
		}
	}

	if *c.dbPath != "" {
		if w.db, err = db.NewDB(*c.dbPath); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
	}
	if *c.groups != "" {
		if w.db == nil {
			w.Close()
			return nil, errors.New("-groups needs -db")
		}
		stored, err := w.db.FeatureGroups().LoadGroups(strings.Split(*c.groups, ",")...)
		if err != nil {
			w.Close()
			return nil, err
		}
		w.groups = append(w.groups, stored...)
	}
	return w, nil
}

func printReports(out io.Writer, reports []fov.Report) {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "GROUP\tVISIBLE\tTHRESHOLD\tSTATE")
	for _, r := range reports {
		state := "ok"
		if r.Clogged() {
			state = "CLOGGED"
		}
		fmt.Fprintf(tw, "%s\t%d/%d\t%d\t%s\n", r.Group, r.Visible, r.Total, r.Threshold, state)
	}
	tw.Flush()
	for _, r := range reports {
		for _, o := range r.Occlusions {
			if o.OutOfRange {
				fmt.Fprintf(out, "  %s/%s out of range at %.3f m\n", r.Group, o.Feature, o.Depth)
			} else {
				fmt.Fprintf(out, "  %s/%s hidden by %s at %.3f m\n", r.Group, o.Feature, o.Part, o.Depth)
			}
		}
	}
}

func handleCheck(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	c := addCommonFlags(fs)
	poses := poseFlags{}
	fs.Var(poses, "set", "Frame pose override frame=x,y,z[,roll,pitch,yaw] (repeatable)")
	asJSON := fs.Bool("json", false, "Print the check record as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w, err := loadWorkspace(c, true)
	if err != nil {
		return err
	}
	defer w.Close()

	if len(poses) > 0 {
		if err := w.scene.SetConfiguration(poses); err != nil {
			return err
		}
	}

	reports, clogged, err := api.Check(w.scene, w.groups, fov.WithBackend(w.cfg.GetBackend()))
	if err != nil {
		return err
	}
	rec := &db.CheckRecord{Scene: w.desc.Name, Clogged: clogged, Reports: reports}
	if w.db != nil && w.cfg.GetRecordChecks() {
		if err := w.db.Checks().RecordCheck(rec); err != nil {
			return err
		}
		monitoring.Debugf("recorded check %s", rec.CheckID)
	}

	if *asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return err
		}
	} else {
		printReports(out, reports)
	}
	if clogged {
		return errClogged
	}
	return nil
}

func handleValidate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("validate", flag.ContinueOnError)
	c := addCommonFlags(fs)
	pathFile := fs.String("path", "", "Joint path file (required)")
	step := fs.Float64("step", 0, "Discretisation step in metres or radians (default from config)")
	workers := fs.Int("workers", -1, "Parallel workers, 0 for one per CPU (default from config)")
	plotPath := fs.String("plot", "", "Write the visibility profile as an image (.png, .svg, .pdf)")
	chartPath := fs.String("chart", "", "Write the visibility profile as an HTML chart")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *pathFile == "" {
		return errors.New("-path is required")
	}

	w, err := loadWorkspace(c, true)
	if err != nil {
		return err
	}
	defer w.Close()

	if *step <= 0 {
		*step = w.cfg.GetPathStep()
	}
	if *workers < 0 {
		*workers = w.cfg.GetValidationWorkers()
	}

	waypoints, err := validation.LoadPath(*pathFile)
	if err != nil {
		return err
	}
	samples, err := validation.DiscretizeLimit(waypoints, *step, w.cfg.GetMaxPathSamples())
	if err != nil {
		return err
	}

	ctx, cancel := w.cfg.WithCheckTimeout(context.Background())
	defer cancel()
	start := time.Now()
	res, err := validation.ValidateParallel(ctx, w.scene, w.groups, samples, *workers, fov.WithBackend(w.cfg.GetBackend()))
	if err != nil {
		return err
	}
	monitoring.Debugf("validated %d samples in %v", res.Checked, time.Since(start))

	if *plotPath != "" {
		if err := security.ValidateOutputPath(*plotPath, ".png", ".svg", ".pdf"); err != nil {
			return err
		}
	}
	if *chartPath != "" {
		if err := security.ValidateOutputPath(*chartPath, ".html"); err != nil {
			return err
		}
	}
	if *plotPath != "" || *chartPath != "" {
		if err := writeProfile(ctx, w, samples, *plotPath, *chartPath); err != nil {
			return err
		}
	}

	if res.Valid {
		fmt.Fprintf(out, "path valid: %d samples clear\n", res.Samples)
		return nil
	}
	fmt.Fprintf(out, "path clogged at sample %d of %d\n", res.FirstClogged, res.Samples)
	return errClogged
}

// writeProfile evaluates every sample and draws the visibility profile.
func writeProfile(ctx context.Context, w *workspace, samples []validation.Waypoint, plotPath, chartPath string) error {
	v, err := validation.NewValidator(w.scene.Clone(), w.groups, fov.WithBackend(w.cfg.GetBackend()))
	if err != nil {
		return err
	}
	p, err := v.Profile(ctx, samples)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("%s visibility", w.desc.Name)
	if plotPath != "" {
		if err := charts.SaveProfilePlot(p, title, plotPath); err != nil {
			return fmt.Errorf("failed to save plot: %w", err)
		}
	}
	if chartPath != "" {
		f, err := os.Create(chartPath)
		if err != nil {
			return err
		}
		if err := charts.RenderProfile(f, p, title); err != nil {
			f.Close()
			return fmt.Errorf("failed to render chart: %w", err)
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	return nil
}

func handleGroups(args []string, out io.Writer) error {
	if len(args) < 1 {
		return errors.New("usage: fovguard groups import|list|delete -db <path> ...")
	}
	action := args[0]
	fs := flag.NewFlagSet("groups "+action, flag.ContinueOnError)
	dbPath := fs.String("db", "", "SQLite database path (required)")
	scenePath := fs.String("scene", "", "Scene description whose feature groups are imported")
	configPath := fs.String("config", "", "Tuning configuration file (.json)")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	if *dbPath == "" {
		return errors.New("-db is required")
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()
	store := database.FeatureGroups()

	switch action {
	case "import":
		if *scenePath == "" {
			return errors.New("-scene is required")
		}
		cfg, err := loadConfig(*configPath)
		if err != nil {
			return err
		}
		desc, err := scene.Load(*scenePath)
		if err != nil {
			return err
		}
		groups, err := desc.FeatureGroups(cfg.GetDefaultDepthMargin(), cfg.GetDefaultSizeMargin())
		if err != nil {
			return err
		}
		for _, g := range groups {
			id, err := store.SaveGroup(g)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "imported %s as %s\n", g.Name(), id)
		}
		return nil

	case "list":
		groups, err := store.ListGroups()
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tFEATURES\tTHRESHOLD\tDEPTH MARGIN\tSIZE MARGIN\tID")
		for _, g := range groups {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%g\t%g\t%s\n",
				g.Name, len(g.Features), g.VisibilityThreshold, g.DepthMargin, g.SizeMargin, g.GroupID)
		}
		return tw.Flush()

	case "delete":
		if fs.NArg() == 0 {
			return errors.New("usage: fovguard groups delete -db <path> <name|id>...")
		}
		for _, name := range fs.Args() {
			if err := store.DeleteGroup(name); err != nil {
				return err
			}
			fmt.Fprintf(out, "deleted %s\n", name)
		}
		return nil

	default:
		return fmt.Errorf("unknown groups action: %s", action)
	}
}

func handleMigrate(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "fovguard.db", "SQLite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, out)
}

func handleServe(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	c := addCommonFlags(fs)
	listen := fs.String("listen", ":8080", "Listen address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *c.dbPath == "" {
		return errors.New("-db is required")
	}

	w, err := loadWorkspace(c, false)
	if err != nil {
		return err
	}
	defer w.Close()

	name := ""
	if w.desc != nil {
		name = w.desc.Name
	}
	mux := api.NewServer(w.db, name, w.scene, w.groups, w.cfg).ServeMux()
	w.db.AttachAdminRoutes(mux)

	server := &http.Server{
		Addr:              *listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		fmt.Fprintf(out, "listening on %s\n", *listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("failed to shut down HTTP server: %v", err)
	}
	log.Print("HTTP server routine stopped")
	return nil
}
