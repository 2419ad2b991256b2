package tools

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/codemesh/codemesh/internal/audit"
	"github.com/codemesh/codemesh/internal/errs"
)

// RiskAssessment is the result of classifying a shell command: a risk
// level, whether the level requires explicit permission before running,
// and the specific signals that drove the classification.
type RiskAssessment struct {
	Level              audit.RiskLevel
	RequiresPermission bool
	Reasons            []string
}

var riskOrder = map[audit.RiskLevel]int{
	audit.RiskLow:      0,
	audit.RiskMedium:   1,
	audit.RiskHigh:     2,
	audit.RiskCritical: 3,
}

func riskAtLeast(current, floor audit.RiskLevel) audit.RiskLevel {
	if riskOrder[floor] > riskOrder[current] {
		return floor
	}
	return current
}

// deniedCommands always classify as Critical: direct risk of data loss
// or unrecoverable system damage.
var deniedCommands = map[string]bool{
	"rm": true, "dd": true, "mkfs": true, "shutdown": true,
	"reboot": true, "halt": true, "chmod": true, "chown": true,
	"mkfs.ext4": true, "mkfs.xfs": true, "fdisk": true, "parted": true,
}

// sensitiveOps mutate system or package state; always at least Medium.
var sensitiveOps = map[string]bool{
	"apt": true, "apt-get": true, "pip": true, "pip3": true,
	"git": true, "docker": true, "kubectl": true, "npm": true,
	"yarn": true, "systemctl": true, "service": true, "brew": true,
}

// networkTools perform outbound network I/O; always at least Medium.
var networkTools = map[string]bool{
	"curl": true, "wget": true, "nc": true, "ncat": true,
	"ssh": true, "scp": true, "rsync": true, "telnet": true, "ftp": true,
}

var shellMetacharacterPattern = regexp.MustCompile(`;|&&|\|\||\||>>|>`)

var sudoPattern = regexp.MustCompile(`(^|\s)(sudo|su)(\s|$)`)

var globPattern = regexp.MustCompile(`[*?\[\]]`)

// injectionBlacklist rejects a command outright regardless of permission
// state: these patterns are never legitimate shell-tool input.
var injectionBlacklist = []*regexp.Regexp{
	regexp.MustCompile(`;\s*rm\s+-rf`),
	regexp.MustCompile(`\$\(\s*curl`),
	regexp.MustCompile(`/etc/passwd`),
	regexp.MustCompile(`/etc/shadow`),
}

// maxCommandLength bounds the raw command string before any execution
// attempt; beyond this it is rejected outright as a security validation
// failure, not merely risk-scored.
const maxCommandLength = 4096

// classifyCommand inspects a shell command and returns its risk
// assessment. The leading token is matched against the denied,
// sensitive-ops, and network-tool lists; additional signals (sudo/su,
// rm+glob, shell metacharacters) can raise the level further but never
// lower it.
func classifyCommand(command string) RiskAssessment {
	level := audit.RiskLow
	var reasons []string

	leading := leadingToken(command)
	if deniedCommands[leading] {
		level = riskAtLeast(level, audit.RiskCritical)
		reasons = append(reasons, "leading command \""+leading+"\" is on the denied list")
	}
	if sensitiveOps[leading] {
		level = riskAtLeast(level, audit.RiskMedium)
		reasons = append(reasons, "leading command \""+leading+"\" performs a sensitive operation")
	}
	if networkTools[leading] {
		level = riskAtLeast(level, audit.RiskMedium)
		reasons = append(reasons, "leading command \""+leading+"\" performs network I/O")
	}
	if sudoPattern.MatchString(command) {
		level = riskAtLeast(level, audit.RiskCritical)
		reasons = append(reasons, "command elevates privileges via sudo/su")
	}
	if (leading == "rm" || leading == "del") && globPattern.MatchString(command) {
		level = riskAtLeast(level, audit.RiskHigh)
		reasons = append(reasons, "rm/del combined with a glob pattern")
	}
	if shellMetacharacterPattern.MatchString(command) {
		level = riskAtLeast(level, audit.RiskMedium)
		reasons = append(reasons, "command contains shell metacharacters")
	}

	return RiskAssessment{
		Level:              level,
		RequiresPermission: riskOrder[level] > riskOrder[audit.RiskLow],
		Reasons:            reasons,
	}
}

// leadingToken extracts the first whitespace-delimited token of command
// and reduces it to a bare executable name (no path prefix), so
// "/usr/bin/rm -rf" still matches "rm".
func leadingToken(command string) string {
	trimmed := strings.TrimSpace(command)
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

// checkInjectionBlacklist rejects obviously malicious patterns and
// oversized commands outright, independent of the risk/permission flow.
func checkInjectionBlacklist(command string) error {
	if len(command) > maxCommandLength {
		return errs.New(errs.InvalidParameters, fmt.Sprintf("command exceeds maximum length of %d characters", maxCommandLength))
	}
	for _, pattern := range injectionBlacklist {
		if pattern.MatchString(command) {
			return errs.New(errs.PermissionDenied, "command matches a blacklisted injection pattern")
		}
	}
	return nil
}
