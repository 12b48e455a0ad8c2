package main

import (
	"fmt"
	"os"

	"github.com/AlecAivazis/survey/v2"
	"github.com/alecthomas/kong"

	"github.com/kdbxwalk/kdbxwalk/pkg/export"
	"github.com/kdbxwalk/kdbxwalk/pkg/kdbx"
	"github.com/kdbxwalk/kdbxwalk/pkg/logging"
)

var CLI struct {
	LogLevel string `short:"l" help:"Application log level"`

	Open struct {
		File           string `arg name:"file" help:"Path to the kdbx database"`
		PassphraseEnv  string `optional name:"passphrase-env" help:"Environment variable holding the passphrase"`
		KeyFile        string `optional name:"keyfile" help:"Path to a key file"`
	} `cmd help:"Open a database and list the root group's immediate children"`

	Ls struct {
		File           string `arg name:"file" help:"Path to the kdbx database"`
		Path           string `arg optional name:"path" default:"/" help:"Group path to list"`
		PassphraseEnv  string `optional name:"passphrase-env" help:"Environment variable holding the passphrase"`
		KeyFile        string `optional name:"keyfile" help:"Path to a key file"`
	} `cmd help:"List a group's immediate children"`

	Show struct {
		File           string `arg name:"file" help:"Path to the kdbx database"`
		Path           string `arg name:"path" help:"Group path to render"`
		ShowPassword   bool   `optional name:"show-password" help:"Render passwords in the clear"`
		PassphraseEnv  string `optional name:"passphrase-env" help:"Environment variable holding the passphrase"`
		KeyFile        string `optional name:"keyfile" help:"Path to a key file"`
	} `cmd help:"Render a group's subtree"`

	Find struct {
		File           string `arg name:"file" help:"Path to the kdbx database"`
		Query          string `arg name:"query" help:"Fuzzy query, e.g. General/Sam"`
		PassphraseEnv  string `optional name:"passphrase-env" help:"Environment variable holding the passphrase"`
		KeyFile        string `optional name:"keyfile" help:"Path to a key file"`
	} `cmd help:"Fuzzy-match group/entry names"`

	Export struct {
		File           string `arg name:"file" help:"Path to the kdbx database"`
		Out            string `arg name:"out" help:"Output path"`
		Format         string `optional name:"format" default:"xml" help:"xml or gzip"`
		PassphraseEnv  string `optional name:"passphrase-env" help:"Environment variable holding the passphrase"`
		KeyFile        string `optional name:"keyfile" help:"Path to a key file"`
	} `cmd help:"Export the decrypted inner XML document"`
}

const (
	passphraseEnvVar = "KDBXWALK_PASSPHRASE"
	defaultLogLevel  = "error"
)

func main() {
	ctx := kong.Parse(&CLI)

	logger := logging.GetRoot()
	level := defaultLogLevel
	if CLI.LogLevel != "" {
		level = CLI.LogLevel
	}
	logger.SetLevel(level)

	var err error
	switch ctx.Command() {
	case "open <file>":
		err = runOpen(logger)
	case "ls <file>", "ls <file> <path>":
		err = runLs(logger)
	case "show <file> <path>":
		err = runShow(logger)
	case "find <file> <query>":
		err = runFind(logger)
	case "export <file> <out>":
		err = runExport(logger)
	default:
		err = fmt.Errorf("unknown command %q", ctx.Command())
	}
	if err != nil {
		logger.WithError(err).Fatal("kdbxwalk failed")
	}
}

func credentials(passphraseEnv, keyFile string) (kdbx.Credentials, error) {
	pass := os.Getenv(passphraseEnvVar)
	if passphraseEnv != "" {
		pass = os.Getenv(passphraseEnv)
	}
	if pass == "" && keyFile == "" {
		prompted, err := promptPassphrase()
		if err != nil {
			return kdbx.Credentials{}, err
		}
		pass = prompted
	}
	return kdbx.Credentials{Passphrase: pass, KeyFilePath: keyFile}, nil
}

func promptPassphrase() (string, error) {
	var pass string
	prompt := &survey.Password{Message: "Database passphrase:"}
	if err := survey.AskOne(prompt, &pass); err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return pass, nil
}

func runOpen(logger logging.Logger) error {
	creds, err := credentials(CLI.Open.PassphraseEnv, CLI.Open.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("opening %s", CLI.Open.File)
	db, err := kdbx.Open(CLI.Open.File, creds)
	if err != nil {
		return err
	}
	defer db.Close()
	root := db.Root()
	for _, name := range root.GroupNames() {
		fmt.Printf("%s/\n", name)
	}
	for _, title := range root.EntryTitles() {
		fmt.Println(title)
	}
	return nil
}

func runLs(logger logging.Logger) error {
	creds, err := credentials(CLI.Ls.PassphraseEnv, CLI.Ls.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("opening %s", CLI.Ls.File)
	db, err := kdbx.Open(CLI.Ls.File, creds)
	if err != nil {
		return err
	}
	defer db.Close()
	group, err := db.Root().FindGroup(CLI.Ls.Path)
	if err != nil {
		return err
	}
	for _, name := range group.GroupNames() {
		fmt.Printf("%s/\n", name)
	}
	for _, title := range group.EntryTitles() {
		fmt.Println(title)
	}
	return nil
}

func runShow(logger logging.Logger) error {
	creds, err := credentials(CLI.Show.PassphraseEnv, CLI.Show.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("opening %s", CLI.Show.File)
	db, err := kdbx.Open(CLI.Show.File, creds)
	if err != nil {
		return err
	}
	defer db.Close()
	group, err := db.Root().FindGroup(CLI.Show.Path)
	if err != nil {
		return err
	}
	fmt.Println(group.Details(0, CLI.Show.ShowPassword))
	return nil
}

func runFind(logger logging.Logger) error {
	creds, err := credentials(CLI.Find.PassphraseEnv, CLI.Find.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("opening %s", CLI.Find.File)
	db, err := kdbx.Open(CLI.Find.File, creds)
	if err != nil {
		return err
	}
	defer db.Close()
	canonical, groups, entries := db.Root().FuzzyFind(CLI.Find.Query)
	fmt.Printf("%s:\n", canonical)
	for _, name := range groups {
		fmt.Printf("  %s/\n", name)
	}
	for _, title := range entries {
		fmt.Printf("  %s\n", title)
	}
	return nil
}

func runExport(logger logging.Logger) error {
	creds, err := credentials(CLI.Export.PassphraseEnv, CLI.Export.KeyFile)
	if err != nil {
		return err
	}
	logger.Debug("opening %s", CLI.Export.File)
	db, err := kdbx.Open(CLI.Export.File, creds)
	if err != nil {
		return err
	}
	defer db.Close()
	format := export.Format(CLI.Export.Format)
	if err := db.Export(CLI.Export.Out, format); err != nil {
		return err
	}
	logger.Debug("exported %s to %s", CLI.Export.File, CLI.Export.Out)
	fmt.Printf("exported to %s\n", CLI.Export.Out)
	return nil
}
