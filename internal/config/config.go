package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultPort                   = 8848
	defaultDataDir                = "data"
	defaultSessionTimeout         = 1800 * time.Second
	defaultRecognitionAttempts    = 3
	maxRecognitionAttempts        = 5
	defaultLoginAttempts          = 3
	defaultNavigationWait         = time.Second
	defaultElementTimeout         = 20 * time.Second
	defaultDownloadTimeout        = 20 * time.Second
	defaultPollInterval           = 500 * time.Millisecond
	defaultPollTimeout            = 10 * time.Minute
	defaultRecognizerTimeout      = 30 * time.Second
	defaultApprovedMarker         = "准予"
	defaultInitialHandleOffset    = 12
	defaultPrinterName            = "TestPrinter"
	defaultPrintUtility           = "printer/PDFtoPrinter"
	defaultRecordTable            = "intelligent_certification"
	defaultWindowWidth            = 1280
	defaultWindowHeight           = 1024
	defaultLogLevel               = "info"
	defaultStorageBucket          = "certificates"
	defaultRecognizerEndpointPath = "/identify"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	SessionTimeout time.Duration `yaml:"session_timeout"`
	Paths          Paths         `yaml:"paths"`
	Captcha        Captcha       `yaml:"captcha"`
	Site           Site          `yaml:"site"`
	Printer        Printer       `yaml:"printer"`
	Browser        Browser       `yaml:"browser"`
	Record         Record        `yaml:"record"`
	Storage        Storage       `yaml:"storage"`
}

// Paths groups the working directories. All of them are app-owned.
type Paths struct {
	DataDir    string `yaml:"data_dir"`
	ScratchDir string `yaml:"scratch_dir"`
	StagingDir string `yaml:"staging_dir"`
	ExtractDir string `yaml:"extract_dir"`
}

// Captcha configures the slider solver and the gap-recognition service.
type Captcha struct {
	RecognitionAttempts int           `yaml:"recognition_attempts"`
	InitialOffset       float64       `yaml:"initial_offset"`
	RecognizerURL       string        `yaml:"recognizer_url"`
	RecognizerTimeout   time.Duration `yaml:"recognizer_timeout"`
}

// Site holds everything specific to the source website.
type Site struct {
	LoginURL       string         `yaml:"login_url"`
	LoginAttempts  int            `yaml:"login_attempts"`
	NavigationWait time.Duration  `yaml:"navigation_wait"`
	ElementTimeout time.Duration  `yaml:"element_timeout"`
	DownloadWait   time.Duration  `yaml:"download_timeout"`
	ApprovedMarker string         `yaml:"approved_marker"`
	Selectors      Selectors      `yaml:"selectors"`
	Documents      []DocumentType `yaml:"documents"`
}

// Selectors are CSS or XPath expressions understood by the session driver.
type Selectors struct {
	CorporateTab  string `yaml:"corporate_tab"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SliderHandle  string `yaml:"slider_handle"`
	Background    string `yaml:"background"`
	Refresh       string `yaml:"refresh"`
	Submit        string `yaml:"submit"`
	LoginError    string `yaml:"login_error"`
	RecordsTab    string `yaml:"records_tab"`
	EmptyRecords  string `yaml:"empty_records"`
	StatusMarker  string `yaml:"status_marker"`
	MoreButton    string `yaml:"more_button"`
	PrintDownload string `yaml:"print_download"`
}

// DocumentType maps an operator-facing code to its display name and page.
type DocumentType struct {
	Code string `yaml:"code"`
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Printer configures the print device and the conversion utility.
type Printer struct {
	Name         string        `yaml:"name"`
	Utility      string        `yaml:"utility"`
	StatusCmd    string        `yaml:"status_cmd"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PollTimeout  time.Duration `yaml:"poll_timeout"`
}

// Browser configures the UI-session driver.
type Browser struct {
	ExecPath     string `yaml:"exec_path"`
	Headless     bool   `yaml:"headless"`
	WindowWidth  int    `yaml:"window_width"`
	WindowHeight int    `yaml:"window_height"`
}

// Record selects the outcome persistence sink. Driver is "postgres" or "file".
type Record struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
	Table  string `yaml:"table"`
}

// Storage configures the optional MinIO archive for printed certificates.
// An empty Endpoint disables it.
type Storage struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// Default returns the defaults of the kiosk deployment.
func Default() Config {
	return Config{
		Port:           defaultPort,
		LogLevel:       defaultLogLevel,
		SessionTimeout: defaultSessionTimeout,
		Paths: Paths{
			DataDir:    defaultDataDir,
			ScratchDir: "test-image",
			StagingDir: "downloads",
			ExtractDir: "extract",
		},
		Captcha: Captcha{
			RecognitionAttempts: defaultRecognitionAttempts,
			InitialOffset:       defaultInitialHandleOffset,
			RecognizerURL:       "http://127.0.0.1:9898" + defaultRecognizerEndpointPath,
			RecognizerTimeout:   defaultRecognizerTimeout,
		},
		Site: Site{
			LoginURL:       "https://tyrz.zwfw.gxzf.gov.cn/am/auth/login?service=initService",
			LoginAttempts:  defaultLoginAttempts,
			NavigationWait: defaultNavigationWait,
			ElementTimeout: defaultElementTimeout,
			DownloadWait:   defaultDownloadTimeout,
			ApprovedMarker: defaultApprovedMarker,
			Selectors:      defaultSelectors(),
			Documents:      defaultDocuments(),
		},
		Printer: Printer{
			Name:         defaultPrinterName,
			Utility:      defaultPrintUtility,
			StatusCmd:    "lpstat",
			PollInterval: defaultPollInterval,
			PollTimeout:  defaultPollTimeout,
		},
		Browser: Browser{
			WindowWidth:  defaultWindowWidth,
			WindowHeight: defaultWindowHeight,
		},
		Record: Record{
			Driver: "file",
			Table:  defaultRecordTable,
		},
		Storage: Storage{
			Bucket: defaultStorageBucket,
		},
	}
}

func defaultSelectors() Selectors {
	return Selectors{
		CorporateTab:  "//span[text()='法人登录']",
		Username:      "#legal_login_name",
		Password:      "#legal_pswd",
		SliderHandle:  "//div[@id='mpanel2']//div[contains(@class,'verify-move-block')]",
		Background:    "#mpanel2 .backImg",
		Refresh:       "//*[@id='mpanel2']/div[1]/div/div/i",
		Submit:        "//*[@id='form_lists']/div[1]/div[2]/button",
		LoginError:    ".err_tip .err_text",
		RecordsTab:    "#tab-second",
		EmptyRecords:  "div.el-table__empty-block",
		StatusMarker:  "div.tni-status.tni-status__success",
		MoreButton:    "//table/tbody/tr/td[7]//button",
		PrintDownload: "/html/body/ul/li[2]/button",
	}
}

func defaultDocuments() []DocumentType {
	const base = "https://zhjg.scjdglj.gxzf.gov.cn:10001/TopFDOAS/topic/homePage.action?currentLink="
	return []DocumentType{
		{Code: "1", Name: "食品经营许可证", URL: base + "foodOp"},
		{Code: "2", Name: "小餐饮登记证", URL: base + "smallCatering"},
		{Code: "3", Name: "小作坊登记证", URL: base + "smallShop"},
		{Code: "4", Name: "食品生产许可证", URL: base + "foodPdt"},
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return cfg, nil
	}
	if err := yaml.Unmarshal(fileData, &cfg); err != nil {
		return cfg, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Document returns the catalog entry for code.
func (c Config) Document(code string) (DocumentType, bool) {
	return c.Site.Document(code)
}

// Document returns the catalog entry for code.
func (s Site) Document(code string) (DocumentType, bool) {
	for _, doc := range s.Documents {
		if doc.Code == code {
			return doc, true
		}
	}
	return DocumentType{}, false
}

func (c *Config) normalize() {
	defaults := Default()
	if c.Port == 0 {
		c.Port = defaultPort
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = defaultSessionTimeout
	}
	if c.Paths.DataDir == "" {
		c.Paths.DataDir = defaults.Paths.DataDir
	}
	if c.Paths.ScratchDir == "" {
		c.Paths.ScratchDir = defaults.Paths.ScratchDir
	}
	if c.Paths.StagingDir == "" {
		c.Paths.StagingDir = defaults.Paths.StagingDir
	}
	if c.Paths.ExtractDir == "" {
		c.Paths.ExtractDir = defaults.Paths.ExtractDir
	}
	if c.Captcha.RecognitionAttempts == 0 {
		c.Captcha.RecognitionAttempts = defaultRecognitionAttempts
	}
	if c.Captcha.RecognizerTimeout == 0 {
		c.Captcha.RecognizerTimeout = defaultRecognizerTimeout
	}
	if c.Site.LoginAttempts == 0 {
		c.Site.LoginAttempts = defaultLoginAttempts
	}
	if c.Site.NavigationWait == 0 {
		c.Site.NavigationWait = defaultNavigationWait
	}
	if c.Site.ElementTimeout == 0 {
		c.Site.ElementTimeout = defaultElementTimeout
	}
	if c.Site.DownloadWait == 0 {
		c.Site.DownloadWait = defaultDownloadTimeout
	}
	if c.Site.ApprovedMarker == "" {
		c.Site.ApprovedMarker = defaultApprovedMarker
	}
	if len(c.Site.Documents) == 0 {
		c.Site.Documents = defaultDocuments()
	}
	if c.Printer.Name == "" {
		c.Printer.Name = defaultPrinterName
	}
	if c.Printer.Utility == "" {
		c.Printer.Utility = defaultPrintUtility
	}
	if c.Printer.StatusCmd == "" {
		c.Printer.StatusCmd = "lpstat"
	}
	if c.Printer.PollInterval == 0 {
		c.Printer.PollInterval = defaultPollInterval
	}
	if c.Browser.WindowWidth == 0 {
		c.Browser.WindowWidth = defaultWindowWidth
	}
	if c.Browser.WindowHeight == 0 {
		c.Browser.WindowHeight = defaultWindowHeight
	}
	c.Record.Driver = strings.ToLower(strings.TrimSpace(c.Record.Driver))
	if c.Record.Driver == "" {
		c.Record.Driver = "file"
	}
	if c.Record.Table == "" {
		c.Record.Table = defaultRecordTable
	}
	if c.Storage.Bucket == "" {
		c.Storage.Bucket = defaultStorageBucket
	}
}

func (c *Config) validate() error {
	if c.Captcha.RecognitionAttempts < 1 || c.Captcha.RecognitionAttempts > maxRecognitionAttempts {
		return fmt.Errorf("invalid captcha.recognition_attempts: %d (must be 1..%d)",
			c.Captcha.RecognitionAttempts, maxRecognitionAttempts)
	}
	if c.Site.LoginAttempts < 1 {
		return fmt.Errorf("invalid site.login_attempts: %d (must be >= 1)", c.Site.LoginAttempts)
	}
	if c.SessionTimeout < 0 || c.Printer.PollInterval < 0 || c.Printer.PollTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	seen := make(map[string]struct{}, len(c.Site.Documents))
	for _, doc := range c.Site.Documents {
		code := strings.TrimSpace(doc.Code)
		if code == "" {
			return errors.New("document with empty code")
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("duplicate document code: %s", code)
		}
		seen[code] = struct{}{}
	}
	switch c.Record.Driver {
	case "file":
	case "postgres":
		if c.Record.DSN == "" {
			return errors.New("record.dsn required for postgres driver")
		}
	default:
		return fmt.Errorf("unknown record.driver: %s", c.Record.Driver)
	}
	return nil
}
