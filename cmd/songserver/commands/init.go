package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/cyberinferno/songstream/catalog"
	"github.com/cyberinferno/songstream/config"
)

const defaultConfigFile = "songstream.toml"

var (
	initForce    bool
	initDemoSong bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Write the default configuration as TOML and create the songs and data
directories it points at.

Examples:
  # Write songstream.toml in the current directory
  songserver init

  # Also generate a short test tone to stream
  songserver init --demo-song

  # Overwrite an existing file
  songserver init --config /etc/songstream.toml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
	initCmd.Flags().BoolVar(&initDemoSong, "demo-song", false, "Generate a sine tone song in the songs directory")
}

func runInit(cmd *cobra.Command, _ []string) error {
	path := cfgFile
	if path == "" {
		path = defaultConfigFile
	}

	if err := config.WriteDefault(path, initForce); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	cfg := config.Default()
	for _, dir := range []string{cfg.Catalog.SongsDir, cfg.Catalog.DataDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	if initDemoSong {
		if err := writeDemoSong(filepath.Join(cfg.Catalog.SongsDir, "Demo - A440"+catalog.SongExt)); err != nil {
			return err
		}
	}

	fmt.Printf("Configuration file created at: %s\n", path)
	fmt.Println("\nNext steps:")
	fmt.Printf("  1. Put \"Artist - Title%s\" files in %s\n", catalog.SongExt, cfg.Catalog.SongsDir)
	fmt.Printf("  2. Start the server with: songserver serve --config %s\n", path)

	return nil
}

func writeDemoSong(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create demo song: %w", err)
	}
	defer f.Close()

	if err := catalog.WriteWAV(f, catalog.CDQuality(), catalog.Tone(440, 5)); err != nil {
		return fmt.Errorf("failed to write demo song: %w", err)
	}

	return nil
}
