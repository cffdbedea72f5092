package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/ludo-technologies/sentinel/internal/config"
	"github.com/ludo-technologies/sentinel/internal/constants"
)

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a sentinel configuration file",
		Long: `Generate a documented sentinel configuration file with sensible defaults.

By default, creates sentinel.yaml in the current directory with every
language and check documented. Use --interactive for a guided setup wizard.

Examples:
  # Create sentinel.yaml in current directory
  sentinel init

  # Only Python and Go, strict presets
  sentinel init --languages python,go --strictness strict

  # Custom output path, overwriting an existing file
  sentinel init --output custom.yaml --force

  # Generate smaller config with essential options only
  sentinel init --minimal

  # Interactive setup wizard
  sentinel init -i`,
		Args: cobra.NoArgs,
		RunE: runInit,
	}

	cmd.Flags().StringP("output", "o", constants.ConfigFileName, "Output path for the config file")
	cmd.Flags().BoolP("force", "f", false, "Overwrite existing config file")
	cmd.Flags().Bool("minimal", false, "Generate minimal config with essential options only")
	cmd.Flags().StringSlice("languages", nil, "Languages to configure (default: all)")
	cmd.Flags().String("strictness", string(config.StrictnessStandard), "Preset: relaxed, standard, strict")
	cmd.Flags().BoolP("interactive", "i", false, "Interactive setup wizard")

	return cmd
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")
	minimal, _ := cmd.Flags().GetBool("minimal")
	languages, _ := cmd.Flags().GetStringSlice("languages")
	strictnessFlag, _ := cmd.Flags().GetString("strictness")
	interactive, _ := cmd.Flags().GetBool("interactive")

	strictness, ok := config.ParseStrictness(strictnessFlag)
	if !ok {
		return errorExit(fmt.Errorf("unknown strictness '%s', must be one of: relaxed, standard, strict", strictnessFlag))
	}
	if err := validateLanguages(languages); err != nil {
		return errorExit(err)
	}

	if interactive {
		var err error
		languages, strictness, configPath, err = runInteractiveSetup(cmd.OutOrStdout(), configPath)
		if err != nil {
			return errorExit(err)
		}
	}

	if err := writeConfigFile(configPath, force, minimal, languages, strictness); err != nil {
		return errorExit(err)
	}

	displayPath := configPath
	if absPath, err := filepath.Abs(configPath); err == nil {
		displayPath = absPath
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Created %s\n", displayPath)
	fmt.Fprintf(out, "\nRun '%s analyze .' to analyze your project.\n", constants.ToolName)
	return nil
}

// writeConfigFile renders the template and writes it, refusing to overwrite
// unless force is set
func writeConfigFile(configPath string, force, minimal bool, languages []string, strictness config.Strictness) error {
	if !force {
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("%s already exists. Use --force to overwrite", configPath)
		}
	}

	dir := filepath.Dir(configPath)
	if dir != "." && dir != "" {
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			return fmt.Errorf("directory does not exist: %s", dir)
		}
	}

	var content string
	if minimal {
		content = config.GetMinimalConfigTemplate()
	} else {
		content = config.GetFullConfigTemplate(languages, strictness)
	}

	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func validateLanguages(languages []string) error {
	available := config.AvailableLanguages()
	for _, lang := range languages {
		if !containsString(available, lang) {
			return fmt.Errorf("unknown language '%s', available: %s", lang, strings.Join(available, ", "))
		}
	}
	return nil
}

func runInteractiveSetup(out io.Writer, defaultConfigPath string) ([]string, config.Strictness, string, error) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "sentinel Configuration Setup")
	fmt.Fprintln(out, "============================")
	fmt.Fprintln(out)

	// Language selection
	languageChoices := []struct {
		Label string
		Value []string
	}{
		{"All languages", nil},
	}
	for _, lang := range config.AvailableLanguages() {
		languageChoices = append(languageChoices, struct {
			Label string
			Value []string
		}{strings.ToUpper(lang[:1]) + lang[1:] + " only", []string{lang}})
	}

	languageTemplates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "\U0001F449 {{ .Label | cyan }}",
		Inactive: "   {{ .Label | white }}",
		Selected: "\U00002705 {{ .Label | green }}",
	}

	languagePrompt := promptui.Select{
		Label:     "Which languages should be checked?",
		Items:     languageChoices,
		Templates: languageTemplates,
	}

	languageIdx, _, err := languagePrompt.Run()
	if err != nil {
		return nil, "", "", fmt.Errorf("language selection cancelled: %w", err)
	}
	selectedLanguages := languageChoices[languageIdx].Value

	fmt.Fprintln(out)

	// Strictness selection
	strictnessLevels := []struct {
		Label       string
		Description string
		Value       config.Strictness
	}{
		{"Standard (recommended)", "Type hints and line length on, medium naming findings", config.StrictnessStandard},
		{"Relaxed", "Naming only, low severity", config.StrictnessRelaxed},
		{"Strict", "Every annotation required, 80 column lines, CI/CD enforcement", config.StrictnessStrict},
	}

	strictnessTemplates := &promptui.SelectTemplates{
		Label:    "{{ . }}",
		Active:   "\U0001F449 {{ .Label | cyan }} - {{ .Description | faint }}",
		Inactive: "   {{ .Label | white }} - {{ .Description | faint }}",
		Selected: "\U00002705 {{ .Label | green }}",
	}

	strictnessPrompt := promptui.Select{
		Label:     "How strict should the analysis be?",
		Items:     strictnessLevels,
		Templates: strictnessTemplates,
	}

	strictnessIdx, _, err := strictnessPrompt.Run()
	if err != nil {
		return nil, "", "", fmt.Errorf("strictness selection cancelled: %w", err)
	}
	selectedStrictness := strictnessLevels[strictnessIdx].Value

	fmt.Fprintln(out)

	// Output path prompt
	outputPrompt := promptui.Prompt{
		Label:   "Output file path",
		Default: defaultConfigPath,
	}

	outputPath, err := outputPrompt.Run()
	if err != nil {
		return nil, "", "", fmt.Errorf("output path input cancelled: %w", err)
	}

	// Use default if empty
	if outputPath == "" {
		outputPath = defaultConfigPath
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "Creating %s... ", outputPath)

	return selectedLanguages, selectedStrictness, outputPath, nil
}
