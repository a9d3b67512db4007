package setup

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/spotsim/config"
	"github.com/vadiminshakov/spotsim/internal/domain"
)

// GeneratedConfigPath is where the wizard writes its result.
const GeneratedConfigPath = "config.gen.yaml"

var (
	subtle    = lipgloss.AdaptiveColor{Light: "#D9DCCF", Dark: "#383838"}
	highlight = lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	special   = lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"}

	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Background(highlight).
			Padding(1, 2).
			Bold(true).
			MarginBottom(1)

	stepStyle = lipgloss.NewStyle().
			Foreground(special).
			Bold(true).
			MarginTop(1).
			MarginBottom(0)
)

// Answers are the raw wizard inputs.
type Answers struct {
	Pair           string
	DefaultRange   string
	InitialBalance string
	PollInterval   string
	HTTPAddr       string
	DataDir        string
}

// DefaultAnswers prefills the wizard with the built-in defaults.
func DefaultAnswers() Answers {
	d := config.Defaults()
	return Answers{
		Pair:           d.Pair,
		DefaultRange:   d.DefaultRange,
		InitialBalance: d.InitialBalance,
		PollInterval:   d.PollPriceInterval.String(),
		HTTPAddr:       d.HTTPAddr,
		DataDir:        d.DataDir,
	}
}

// RunTUI launches the terminal configuration wizard and returns the written config path.
func RunTUI() (string, error) {
	a := DefaultAnswers()
	var confirm bool

	screen := func(step string) {
		fmt.Print("\033[H\033[2J")
		fmt.Println(headerStyle.Render("SPOTSIM CONFIG WIZARD"))
		fmt.Println(stepStyle.Render(step))
	}

	screen("STEP 1: MARKET")
	fmt.Println(lipgloss.NewStyle().Foreground(subtle).Render("Pick the market you want to paper trade.\n"))
	rangeOptions := make([]huh.Option[string], 0, len(domain.Ranges()))
	for _, r := range domain.Ranges() {
		rangeOptions = append(rangeOptions, huh.NewOption(r.Label(), r.String()))
	}
	err := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Trading Pair").
				Description("BASE_QUOTE, e.g. BTC_USDT").
				Value(&a.Pair).
				Validate(validatePair),
			huh.NewSelect[string]().
				Title("Chart range on start").
				Options(rangeOptions...).
				Value(&a.DefaultRange),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 2: ACCOUNT")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Initial balance").
				Description("Virtual quote currency to start with").
				Value(&a.InitialBalance).
				Validate(validateBalance),
			huh.NewInput().
				Title("Poll Price Interval").
				Description("Duration string (e.g. 2s, 5s)").
				Value(&a.PollInterval).
				Validate(validateDuration),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("STEP 3: SERVER")
	err = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen address").
				Value(&a.HTTPAddr),
			huh.NewInput().
				Title("Data directory").
				Description("Portfolio state and trade journal").
				Value(&a.DataDir),
		),
	).Run()
	if err != nil {
		return "", err
	}

	screen("FINAL CONFIRMATION")
	summary := fmt.Sprintf(
		"Pair: %s\nRange: %s\nBalance: %s\nInterval: %s\nAddress: %s\nData: %s\n",
		a.Pair, a.DefaultRange, a.InitialBalance, a.PollInterval, a.HTTPAddr, a.DataDir,
	)
	fmt.Println(lipgloss.NewStyle().Border(lipgloss.NormalBorder()).Padding(1).Render(summary))

	err = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Save Configuration?").
				Affirmative("Yes, save and start").
				Negative("No, exit").
				Value(&confirm),
		),
	).Run()
	if err != nil {
		return "", err
	}
	if !confirm {
		return "", errors.New("setup cancelled by user")
	}

	tmp, err := a.ConfigTmp()
	if err != nil {
		return "", err
	}
	if err := Write(GeneratedConfigPath, tmp); err != nil {
		return "", err
	}

	fmt.Println(lipgloss.NewStyle().Foreground(special).Render(fmt.Sprintf("\n✓ Configuration saved to %s\nStarting simulator...", GeneratedConfigPath)))
	time.Sleep(1500 * time.Millisecond) // small pause to read success message
	return GeneratedConfigPath, nil
}

// ConfigTmp converts the answers into a config file body on top of the defaults.
func (a Answers) ConfigTmp() (config.ConfigTmp, error) {
	poll, err := time.ParseDuration(a.PollInterval)
	if err != nil {
		return config.ConfigTmp{}, errors.Wrap(err, "poll interval")
	}

	tmp := config.Defaults()
	tmp.Pair = a.Pair
	tmp.DefaultRange = a.DefaultRange
	tmp.InitialBalance = a.InitialBalance
	tmp.PollPriceInterval = poll
	tmp.HTTPAddr = a.HTTPAddr
	tmp.DataDir = a.DataDir

	if _, err := tmp.Build(); err != nil {
		return config.ConfigTmp{}, err
	}
	return tmp, nil
}

// Write stores tmp as YAML at path.
func Write(path string, tmp config.ConfigTmp) error {
	data, err := yaml.Marshal(tmp)
	if err != nil {
		return errors.Wrap(err, "failed to generate yaml")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrap(err, "failed to save config file")
	}
	return nil
}

func validatePair(s string) error {
	_, err := domain.ParsePair(s)
	return err
}

func validateBalance(s string) error {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return errors.New("must be a valid number")
	}
	if !d.IsPositive() {
		return errors.New("must be positive")
	}
	return nil
}

func validateDuration(s string) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
