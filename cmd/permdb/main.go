// permdb is an administrative tool for the permission store: schema
// provisioning, backend diagnostics, audit log inspection, and bulk
// permission rewrites.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/NotAlexNoyle/LuckPerms-OG/bulkupdate"
	"github.com/NotAlexNoyle/LuckPerms-OG/query"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage/sqlstore"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage/sqlstore/dialect"
	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	log "github.com/sirupsen/logrus"
)

// Config is the top-level configuration object of permdb.
var Config = new(struct {
	Store struct {
		Backend string `long:"backend" env:"BACKEND" default:"sqlite" choice:"sqlite" choice:"postgresql" choice:"mysql" description:"SQL backend dialect"`
		Prefix  string `long:"prefix" env:"PREFIX" default:"luckperms_" description:"Table name prefix"`

		SQLite   dialect.SQLiteConfig   `group:"SQLite" namespace:"sqlite" env-namespace:"SQLITE"`
		Postgres dialect.PostgresConfig `group:"PostgreSQL" namespace:"postgres" env-namespace:"POSTGRES"`
		MySQL    dialect.MySQLConfig    `group:"MySQL" namespace:"mysql" env-namespace:"MYSQL"`
	} `group:"Store" namespace:"store" env-namespace:"STORE"`

	Log struct {
		Level  string `long:"level" env:"LEVEL" default:"info" choice:"trace" choice:"debug" choice:"info" choice:"warn" choice:"error" choice:"fatal" description:"Logging level"`
		Format string `long:"format" env:"FORMAT" default:"text" choice:"json" choice:"text" choice:"color" description:"Logging output format"`
	} `group:"Logging" namespace:"log" env-namespace:"LOG"`
})

func main() {
	var parser = flags.NewParser(Config, flags.Default)
	parser.LongDescription = `permdb is a tool for administering the SQL permission store.

See --help pages of each sub-command for documentation and usage examples.`

	mustAddCmd(parser.Command, "init",
		"Provision the store schema", "Connect to the backend and provision schema if not yet present.", &cmdInit{})
	mustAddCmd(parser.Command, "meta",
		"Print backend diagnostics", "Print backend connectivity and pool diagnostics.", &cmdMeta{})
	mustAddCmd(parser.Command, "log",
		"Dump the action log", "Read and print the full audit log in order.", &cmdLog{})
	mustAddCmd(parser.Command, "bulkupdate",
		"Apply a bulk permission rewrite",
		`Apply a predicate-scoped rewrite across the permission tables.

Queries take the form "<field> <comparison> <value>", where field is one of
permission, server or world, and comparison is one of == != ~~ !~~ (~~ is a
SQL LIKE match). Example:

    permdb bulkupdate --action=update --field=server --value=lobby \
        --query="permission ~~ group.%" --query="server == global"`,
		&cmdBulkUpdate{})

	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}
}

func mustAddCmd(cmd *flags.Command, name, short, long string, cfg interface{}) *flags.Command {
	cmd, err := cmd.AddCommand(name, short, long, cfg)
	if err != nil {
		log.WithFields(log.Fields{"name": name, "err": err}).Fatal("failed to add command")
	}
	return cmd
}

// initLog configures the logger.
func initLog() {
	if Config.Log.Format == "json" {
		log.SetFormatter(&log.JSONFormatter{})
	} else if Config.Log.Format == "text" {
		log.SetFormatter(&log.TextFormatter{})
	} else if Config.Log.Format == "color" {
		log.SetFormatter(&log.TextFormatter{ForceColors: true})
	}
	if lvl, err := log.ParseLevel(Config.Log.Level); err != nil {
		log.WithField("err", err).Fatal("unrecognized log level")
	} else {
		log.SetLevel(lvl)
	}
}

// newStore builds and initializes a Store over the configured backend.
// Administrative operations never borrow holder instances, so no managers
// are attached.
func newStore(ctx context.Context) *sqlstore.Store {
	initLog()

	var factory dialect.Factory
	switch Config.Store.Backend {
	case "sqlite":
		factory = dialect.NewSQLite(Config.Store.SQLite)
	case "postgresql":
		factory = dialect.NewPostgres(Config.Store.Postgres)
	case "mysql":
		factory = dialect.NewMySQL(Config.Store.MySQL)
	}

	var store = sqlstore.New(factory, sqlstore.Config{TablePrefix: Config.Store.Prefix})
	if err := store.Init(ctx); err != nil {
		log.WithField("err", err).Fatal("failed to initialize store")
	}
	return store
}

type cmdInit struct{}

func (cmdInit) Execute([]string) error {
	var ctx = context.Background()
	var store = newStore(ctx)
	defer store.Shutdown()

	log.WithField("backend", store.Name()).Info("store initialized")
	return nil
}

type cmdMeta struct{}

func (cmdMeta) Execute([]string) error {
	var ctx = context.Background()
	var store = newStore(ctx)
	defer store.Shutdown()

	fmt.Println("backend:", store.Name())
	for k, v := range store.Meta(ctx) {
		fmt.Printf("%s: %s\n", k, v)
	}
	return nil
}

type cmdLog struct{}

func (cmdLog) Execute([]string) error {
	var ctx = context.Background()
	var store = newStore(ctx)
	defer store.Shutdown()

	var entries, err = store.Log(ctx)
	if err != nil {
		return err
	}
	for _, e := range entries.Entries() {
		var target = e.TargetName
		if e.TargetID != nil {
			target = fmt.Sprintf("%s (%s)", e.TargetName, e.TargetID)
		}
		fmt.Printf("%s %s [%c] %s: %s\n",
			humanize.Time(time.Unix(e.Timestamp, 0)), e.ActorName, e.Type, target, e.Action)
	}
	return nil
}

type cmdBulkUpdate struct {
	Target  string   `long:"target" default:"all" choice:"all" choice:"users" choice:"groups" description:"Holder kinds to rewrite"`
	Action  string   `long:"action" required:"true" choice:"delete" choice:"update" description:"Rewrite action"`
	Field   string   `long:"field" description:"Field rewritten by the update action"`
	Value   string   `long:"value" description:"Value written by the update action"`
	Queries []string `long:"query" description:"WHERE constraint, '<field> <comparison> <value>' (repeatable)"`
}

func (c cmdBulkUpdate) Execute([]string) error {
	var ctx = context.Background()

	var dataType bulkupdate.DataType
	switch c.Target {
	case "all":
		dataType = bulkupdate.All
	case "users":
		dataType = bulkupdate.UsersOnly
	case "groups":
		dataType = bulkupdate.GroupsOnly
	}

	var action bulkupdate.Action
	if c.Action == "delete" {
		action = bulkupdate.DeleteAction{}
	} else {
		var field, err = parseField(c.Field)
		if err != nil {
			return err
		}
		action = bulkupdate.UpdateAction{Field: field, Value: c.Value}
	}

	var queries []bulkupdate.Query
	for _, raw := range c.Queries {
		var q, err = parseQuery(raw)
		if err != nil {
			return err
		}
		queries = append(queries, q)
	}

	var store = newStore(ctx)
	defer store.Shutdown()

	var update = bulkupdate.New(dataType, action, queries, true)
	if err := store.ApplyBulkUpdate(ctx, update); err != nil {
		return err
	}

	var stats = update.Statistics()
	fmt.Printf("affected %d users, %d groups, %d nodes\n",
		stats.AffectedUsers(), stats.AffectedGroups(), stats.AffectedNodes())
	return nil
}

func parseField(raw string) (bulkupdate.Field, error) {
	switch raw {
	case "permission":
		return bulkupdate.FieldPermission, nil
	case "server":
		return bulkupdate.FieldServer, nil
	case "world":
		return bulkupdate.FieldWorld, nil
	}
	return "", fmt.Errorf("unknown field %q (one of permission, server, world)", raw)
}

func parseQuery(raw string) (bulkupdate.Query, error) {
	var parts = strings.SplitN(raw, " ", 3)
	if len(parts) != 3 {
		return bulkupdate.Query{}, fmt.Errorf("malformed query %q (want '<field> <comparison> <value>')", raw)
	}
	var field, err = parseField(parts[0])
	if err != nil {
		return bulkupdate.Query{}, err
	}
	comparison, ok := query.ParseComparison(parts[1])
	if !ok {
		return bulkupdate.Query{}, fmt.Errorf("unknown comparison %q (one of == != ~~ !~~)", parts[1])
	}
	return bulkupdate.Query{
		Field:      field,
		Constraint: query.Constraint{Comparison: comparison, Value: parts[2]},
	}, nil
}
