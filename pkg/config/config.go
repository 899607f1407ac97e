// Package config загрузка конфигурации драйвера из ini файла.
//
// Секция [general] задает общие параметры, каждая другая секция описывает
// линию: набор B-каналов (и, возможно, D-канал) одного контроллера.
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	ini "gopkg.in/ini.v1"

	"github.com/arzzra/isdn_capi/pkg/callstate"
	"github.com/arzzra/isdn_capi/pkg/media"
)

// GeneralSection имя общей секции
const GeneralSection = "general"

// IsdnMode режим сопоставления входящих номеров
type IsdnMode int

const (
	// ModeMSN номер сравнивается целиком со списком MSN
	ModeMSN IsdnMode = iota
	// ModeDID номер сравнивается как префикс, цифры досылаются
	ModeDID
)

func (m IsdnMode) String() string {
	if m == ModeDID {
		return "did"
	}
	return "msn"
}

// General общие параметры
type General struct {
	Device              string
	LogLevel            string
	LogFile             string
	ConsoleLevel        string
	FileLevel           string
	MetricsAddr         string
	NationalPrefix      string
	InternationalPrefix string
	MaxB3Blocks         int
	MaxB3Size           int
	WaitTimeout         time.Duration
	PollInterval        time.Duration
	LinkageCache        int
	FaxTimeout          time.Duration
}

// Line конфигурация одной линии
type Line struct {
	Name        string
	Controller  uint8
	Devices     int
	DChannel    bool
	Group       uint64
	Mode        IsdnMode
	IncomingMSN []string
	Context     string
	Immediate   bool
	EchoSquelch bool
	EchoCancel  bool
	SoftDTMF    bool
	RTP         bool
	Law         media.Law
	B3Policy    callstate.B3Policy
	DefaultCID  string
	Language    string
	AccountCode string
}

// Config загруженная конфигурация
type Config struct {
	General General
	Lines   []Line
}

// DefaultGeneral значения [general] по умолчанию
func DefaultGeneral() General {
	return General{
		Device:              "/dev/capi20",
		LogLevel:            "info",
		NationalPrefix:      "0",
		InternationalPrefix: "00",
		MaxB3Blocks:         7,
		MaxB3Size:           2048,
		WaitTimeout:         2 * time.Second,
		PollInterval:        500 * time.Millisecond,
		LinkageCache:        64,
		FaxTimeout:          10 * time.Minute,
	}
}

// Load читает файл конфигурации
func Load(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "чтение конфигурации %s", path)
	}
	return parse(f)
}

// Parse разбирает конфигурацию из памяти
func Parse(data []byte) (*Config, error) {
	f, err := ini.Load(data)
	if err != nil {
		return nil, errors.Wrap(err, "разбор конфигурации")
	}
	return parse(f)
}

func parse(f *ini.File) (*Config, error) {
	cfg := &Config{General: DefaultGeneral()}
	if err := loadGeneral(f.Section(GeneralSection), &cfg.General); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	for _, sec := range f.Sections() {
		name := sec.Name()
		if name == ini.DefaultSection || name == GeneralSection {
			continue
		}
		if seen[strings.ToLower(name)] {
			return nil, errors.Errorf("[%s]: линия описана дважды", name)
		}
		seen[strings.ToLower(name)] = true

		line, err := loadLine(sec)
		if err != nil {
			return nil, err
		}
		cfg.Lines = append(cfg.Lines, line)
	}
	if len(cfg.Lines) == 0 {
		return nil, errors.New("не описано ни одной линии")
	}
	return cfg, nil
}

func loadGeneral(sec *ini.Section, g *General) error {
	g.Device = sec.Key("device").MustString(g.Device)
	g.LogLevel = sec.Key("loglevel").MustString(g.LogLevel)
	g.LogFile = sec.Key("logfile").String()
	g.ConsoleLevel = sec.Key("consolelevel").MustString(g.LogLevel)
	g.FileLevel = sec.Key("filelevel").MustString(g.LogLevel)
	g.MetricsAddr = sec.Key("metrics").String()
	g.NationalPrefix = sec.Key("nationalprefix").MustString(g.NationalPrefix)
	g.InternationalPrefix = sec.Key("internationalprefix").MustString(g.InternationalPrefix)
	g.MaxB3Blocks = sec.Key("maxb3blocks").MustInt(g.MaxB3Blocks)
	g.MaxB3Size = sec.Key("maxb3size").MustInt(g.MaxB3Size)
	g.WaitTimeout = sec.Key("waittimeout").MustDuration(g.WaitTimeout)
	g.PollInterval = sec.Key("pollinterval").MustDuration(g.PollInterval)
	g.LinkageCache = sec.Key("linkagecache").MustInt(g.LinkageCache)
	g.FaxTimeout = sec.Key("faxtimeout").MustDuration(g.FaxTimeout)

	if g.MaxB3Blocks < 1 || g.MaxB3Blocks > 7 {
		return keyError(sec, "maxb3blocks", "допустимо 1..7")
	}
	if g.MaxB3Size < 128 || g.MaxB3Size > 2048 {
		return keyError(sec, "maxb3size", "допустимо 128..2048")
	}
	if g.WaitTimeout <= 0 {
		return keyError(sec, "waittimeout", "должен быть положительным")
	}
	if g.PollInterval <= 0 {
		return keyError(sec, "pollinterval", "должен быть положительным")
	}
	if g.FaxTimeout < g.WaitTimeout {
		return keyError(sec, "faxtimeout", "не может быть меньше waittimeout")
	}
	return nil
}

func loadLine(sec *ini.Section) (Line, error) {
	l := Line{Name: sec.Name()}

	ctrl := sec.Key("controller").MustInt(1)
	if ctrl < 1 || ctrl > 127 {
		return l, keyError(sec, "controller", "допустимо 1..127")
	}
	l.Controller = uint8(ctrl)

	l.Devices = sec.Key("devices").MustInt(2)
	l.DChannel = sec.Key("dchannel").MustBool(false)
	if l.Devices < 0 || (l.Devices == 0 && !l.DChannel) {
		return l, keyError(sec, "devices", "линия без каналов")
	}

	group, err := parseGroup(sec.Key("group").String())
	if err != nil {
		return l, keyError(sec, "group", err.Error())
	}
	l.Group = group

	switch mode := strings.ToLower(sec.Key("isdnmode").MustString("msn")); mode {
	case "msn":
		l.Mode = ModeMSN
	case "did":
		l.Mode = ModeDID
	default:
		return l, keyError(sec, "isdnmode", "ожидается msn или did")
	}

	for _, msn := range sec.Key("incomingmsn").Strings(",") {
		if msn != "" {
			l.IncomingMSN = append(l.IncomingMSN, msn)
		}
	}

	l.Context = sec.Key("context").String()
	if l.Context == "" {
		return l, keyError(sec, "context", "обязательный параметр")
	}
	l.Immediate = sec.Key("immediate").MustBool(false)
	l.EchoSquelch = sec.Key("echosquelch").MustBool(false)
	l.EchoCancel = sec.Key("echocancel").MustBool(true)
	l.SoftDTMF = sec.Key("softdtmf").MustBool(false)
	l.RTP = sec.Key("rtp").MustBool(false)

	law, err := media.ParseLaw(strings.ToLower(sec.Key("law").String()))
	if err != nil {
		return l, keyError(sec, "law", "ожидается alaw или ulaw")
	}
	l.Law = law

	policy, ok := callstate.ParseB3Policy(sec.Key("b3mode").String())
	if !ok {
		return l, keyError(sec, "b3mode", "ожидается never, success или always")
	}
	l.B3Policy = policy

	l.DefaultCID = sec.Key("defaultcid").String()
	l.Language = sec.Key("language").String()
	l.AccountCode = sec.Key("accountcode").String()
	return l, nil
}

// parseGroup разбирает список групп "1,3" в битовую маску
func parseGroup(s string) (uint64, error) {
	var mask uint64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 || n > 63 {
			return 0, errors.Errorf("неверная группа %q", part)
		}
		mask |= 1 << uint(n)
	}
	return mask, nil
}

func keyError(sec *ini.Section, key, msg string) error {
	return errors.Errorf("[%s] %s = %q: %s", sec.Name(), key, sec.Key(key).String(), msg)
}
