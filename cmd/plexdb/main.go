package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"

	flags "github.com/jessevdk/go-flags"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"plexdb"
	"plexdb/common"
	"plexdb/config"
)

// Options represents the global command line options
type Options struct {
	Config       string   `long:"config" description:"json options file"`
	LogLevel     string   `long:"log-level" description:"panic, fatal, error, warn, info, debug or trace"`
	DefaultOwner string   `long:"default-owner" description:"hierarchy of the owner used when no tag is given"`
	PKExceptions []string `long:"pk-exception" description:"table whose <table>_id column is not a primary key"`
	StripChars   bool     `long:"strip-invalid-chars" description:"drop control character references ahead of parsing"`

	Load LoadCommand `command:"load" description:"build a sqlite store from a PLEXOS xml file"`
	Save SaveCommand `command:"save" description:"write a store back out as PLEXOS xml"`
	Diff DiffCommand `command:"diff" description:"compare two models"`
	Get  GetCommand  `command:"get" description:"print a property value"`
	Set  SetCommand  `command:"set" description:"set a property value in a sqlite store"`
}

var opts Options

var log = logrus.New()

// ctx is cancelled on interrupt.
var ctx = context.Background()

// settings merges the config file, when given, with the global flags.
func settings() (cfg config.Config, err error) {
	cfg = config.Default()
	if opts.Config != "" {
		if cfg, err = config.Load(opts.Config); err != nil {
			return
		}
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if opts.DefaultOwner != "" {
		cfg.DefaultOwner = opts.DefaultOwner
	}
	if len(opts.PKExceptions) > 0 {
		cfg.PKExceptions = opts.PKExceptions
	}
	if opts.StripChars {
		cfg.RemoveInvalidChars = true
	}
	lvl, err := cfg.Level()
	if err != nil {
		return
	}
	log.SetLevel(lvl)
	return cfg, nil
}

func isXML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xml")
}

// openStore loads xml files into memory and opens anything else as a store.
func openStore(path string) (*plexdb.Store, error) {
	cfg, err := settings()
	if err != nil {
		return nil, err
	}
	o := cfg.Options(log)
	if isXML(path) {
		o.DBPath = ""
		return plexdb.LoadFile(ctx, path, o)
	}
	return plexdb.Open(ctx, path, o)
}

type LoadCommand struct {
	Out  string `short:"o" long:"out" description:"sqlite file to build, defaults to the input with a .db extension"`
	Args struct {
		XML string `positional-arg-name:"xml" required:"yes"`
	} `positional-args:"yes"`
}

func (c *LoadCommand) Execute(_ []string) error {
	cfg, err := settings()
	if err != nil {
		return err
	}
	o := cfg.Options(log)
	switch {
	case c.Out != "":
		o.DBPath = c.Out
	case o.DBPath == "":
		o.DBPath = strings.TrimSuffix(c.Args.XML, filepath.Ext(c.Args.XML)) + ".db"
	}
	store, err := plexdb.LoadFile(ctx, c.Args.XML, o)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	fmt.Println(store.Path())
	return nil
}

type SaveCommand struct {
	Args struct {
		Store string `positional-arg-name:"store" required:"yes"`
		Out   string `positional-arg-name:"out" required:"yes"`
	} `positional-args:"yes"`
}

func (c *SaveCommand) Execute(_ []string) error {
	store, err := openStore(c.Args.Store)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	return store.Save(ctx, c.Args.Out)
}

type DiffCommand struct {
	Raw  bool `long:"raw" description:"compare raw table rows instead of the model"`
	JSON bool `long:"json" description:"print model differences as json"`
	Args struct {
		Orig string `positional-arg-name:"orig" required:"yes"`
		Comp string `positional-arg-name:"comp" required:"yes"`
	} `positional-args:"yes"`
}

func (c *DiffCommand) Execute(_ []string) error {
	orig, err := openStore(c.Args.Orig)
	if err != nil {
		return err
	}
	defer orig.Close(ctx)
	comp, err := openStore(c.Args.Comp)
	if err != nil {
		return err
	}
	defer comp.Close(ctx)

	if c.Raw {
		diffs, err := orig.DiffDB(ctx, comp)
		if err != nil {
			return err
		}
		for _, d := range diffs {
			fmt.Printf("%s %s: %d missing, %d extra\n", d.Kind, d.Table, len(d.Missing), len(d.Extra))
		}
		return nil
	}
	entries, err := orig.Diff(ctx, comp)
	if err != nil {
		return err
	}
	if c.JSON {
		out, err := entries.JSON()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}
	for _, e := range entries {
		fmt.Println(e.String())
	}
	return nil
}

type GetCommand struct {
	Tag  string `long:"tag" description:"hierarchy of the owning object"`
	Args struct {
		Store    string `positional-arg-name:"store" required:"yes"`
		Object   string `positional-arg-name:"object" description:"Class.Object hierarchy" required:"yes"`
		Property string `positional-arg-name:"property"`
	} `positional-args:"yes"`
}

func (c *GetCommand) Execute(_ []string) error {
	store, err := openStore(c.Args.Store)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	obj, err := store.ByHierarchy(ctx, c.Args.Object)
	if err != nil {
		return err
	}
	if c.Args.Property != "" {
		v, err := obj.GetProperty(ctx, c.Args.Property, c.Tag)
		if err != nil {
			return err
		}
		fmt.Println(v.String())
		return nil
	}
	props, err := obj.GetProperties(ctx)
	if err != nil {
		return err
	}
	for _, owner := range sortedKeys(props) {
		for _, name := range sortedKeys(props[owner]) {
			fmt.Printf("%s\t%s\t%s\n", owner, name, props[owner][name].String())
		}
	}
	return nil
}

type SetCommand struct {
	Tag     string `long:"tag" description:"hierarchy of the owning object"`
	DataTag string `long:"data-tag" description:"hierarchy of an extra tag for new data"`
	Args    struct {
		Store    string   `positional-arg-name:"store" required:"yes"`
		Object   string   `positional-arg-name:"object" description:"Class.Object hierarchy" required:"yes"`
		Property string   `positional-arg-name:"property" required:"yes"`
		Values   []string `positional-arg-name:"value" required:"1"`
	} `positional-args:"yes"`
}

func (c *SetCommand) Execute(_ []string) error {
	if isXML(c.Args.Store) {
		return errors.Wrap(common.ErrValidation, "set needs a sqlite store, run load first")
	}
	store, err := openStore(c.Args.Store)
	if err != nil {
		return err
	}
	defer store.Close(ctx)
	obj, err := store.ByHierarchy(ctx, c.Args.Object)
	if err != nil {
		return err
	}
	return obj.SetProperty(ctx, c.Args.Property, common.ValueOf(c.Args.Values), c.Tag, c.DataTag)
}

func sortedKeys[V any](m map[string]V) []string {
	ret := make([]string, 0, len(m))
	for k := range m {
		ret = append(ret, k)
	}
	sort.Strings(ret)
	return ret
}

func main() {
	var stop context.CancelFunc
	ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		stop()
		os.Exit(1)
	}
}
