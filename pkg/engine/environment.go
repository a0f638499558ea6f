package engine

import (
	"runtime"
	"strings"
)

// Environment values understood by platform filters.
const (
	OSLinux   = "linux"
	OSMacOSX  = "macosx"
	OSWin32   = "win32"
	WSGTK     = "gtk"
	WSCocoa   = "cocoa"
	WSWin32   = "win32"
	ArchX8664 = "x86_64"
	ArchARM64 = "aarch64"
)

// Environment is the platform a target is resolved for.
type Environment struct {
	OS   string `json:"os,omitempty" yaml:"os,omitempty"`
	WS   string `json:"ws,omitempty" yaml:"ws,omitempty"`
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty"`
	NL   string `json:"nl,omitempty" yaml:"nl,omitempty"`
}

// DefaultEnvironment describes the running process.
func DefaultEnvironment() Environment {
	env := Environment{NL: "en_US"}
	switch runtime.GOOS {
	case "darwin":
		env.OS, env.WS = OSMacOSX, WSCocoa
	case "windows":
		env.OS, env.WS = OSWin32, WSWin32
	default:
		env.OS, env.WS = OSLinux, WSGTK
	}
	switch runtime.GOARCH {
	case "arm64":
		env.Arch = ArchARM64
	default:
		env.Arch = ArchX8664
	}
	return env
}

// Merge returns e with empty fields taken from fallback.
func (e Environment) Merge(fallback Environment) Environment {
	if e.OS == "" {
		e.OS = fallback.OS
	}
	if e.WS == "" {
		e.WS = fallback.WS
	}
	if e.Arch == "" {
		e.Arch = fallback.Arch
	}
	if e.NL == "" {
		e.NL = fallback.NL
	}
	return e
}

// String returns os.ws.arch.
func (e Environment) String() string {
	return e.OS + "." + e.WS + "." + e.Arch
}

// SupportedEnvironments lists the platforms considered when a location
// resolves for all environments.
func SupportedEnvironments() []Environment {
	return []Environment{
		{OS: OSLinux, WS: WSGTK, Arch: ArchX8664},
		{OS: OSLinux, WS: WSGTK, Arch: ArchARM64},
		{OS: OSMacOSX, WS: WSCocoa, Arch: ArchX8664},
		{OS: OSMacOSX, WS: WSCocoa, Arch: ArchARM64},
		{OS: OSWin32, WS: WSWin32, Arch: ArchX8664},
		{OS: OSWin32, WS: WSWin32, Arch: ArchARM64},
	}
}

// Filter restricts content to some platforms. Each field holds a
// comma-separated list of accepted values; an empty field accepts anything.
type Filter struct {
	OS   string `json:"os,omitempty" yaml:"os,omitempty"`
	WS   string `json:"ws,omitempty" yaml:"ws,omitempty"`
	Arch string `json:"arch,omitempty" yaml:"arch,omitempty"`
	NL   string `json:"nl,omitempty" yaml:"nl,omitempty"`
}

// IsEmpty reports whether the filter accepts every environment.
func (f Filter) IsEmpty() bool {
	return f == Filter{}
}

// Matches reports whether env satisfies the filter.
func (f Filter) Matches(env Environment) bool {
	return matchList(f.OS, env.OS) &&
		matchList(f.WS, env.WS) &&
		matchList(f.Arch, env.Arch) &&
		matchList(f.NL, env.NL)
}

// MatchesAny reports whether any of envs satisfies the filter.
func (f Filter) MatchesAny(envs []Environment) bool {
	for _, env := range envs {
		if f.Matches(env) {
			return true
		}
	}
	return false
}

func matchList(list, value string) bool {
	if strings.TrimSpace(list) == "" || value == "" {
		return true
	}
	for _, item := range strings.Split(list, ",") {
		if strings.TrimSpace(item) == value {
			return true
		}
	}
	return false
}
