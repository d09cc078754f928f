package scanner

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// defaultThreshold is the feature-score threshold of spec §4.3.1: scores at
// or above it FLAG, scores at or above 1.3x it BLOCK.
const defaultThreshold = 0.7

// Scanner classifies inbound text for injection attempts and outbound text
// for secret/PII/canary leakage. It is safe for concurrent use; its pattern
// catalog can be hot-reloaded (e.g. from an fsnotify watch on a patterns
// file) without restarting the host.
type Scanner struct {
	mu        sync.RWMutex
	inbound   []inboundPattern
	outbound  []outboundPattern
	threshold float64
	log       *slog.Logger

	watcher *fsnotify.Watcher
	stop    chan struct{}
}

// New builds a Scanner with the built-in pattern catalogs and the default
// threshold. Callers may adjust the threshold with SetThreshold.
func New(log *slog.Logger) *Scanner {
	if log == nil {
		log = slog.Default()
	}
	return &Scanner{
		inbound:   defaultInboundPatterns(),
		outbound:  defaultOutboundPatterns(),
		threshold: defaultThreshold,
		log:       log,
	}
}

// SetThreshold adjusts the feature-score threshold at runtime.
func (s *Scanner) SetThreshold(t float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threshold = t
}

// Threshold returns the current feature-score threshold.
func (s *Scanner) Threshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.threshold
}

// IssueCanary mints a fresh canary token for embedding in wrapped external
// content.
func (s *Scanner) IssueCanary() (string, error) {
	return canaryToken()
}

// ClassifyInbound applies the regex layer, then the weighted feature score,
// to text arriving from an external source (spec §4.3.1).
//
// A Block match in the regex layer forces the final verdict to Block
// regardless of the feature score. Otherwise the feature score decides:
// score >= 1.3x the threshold BLOCKs, score >= the threshold FLAGs, else
// the regex layer's own verdict (Pass or Flag) stands.
func (s *Scanner) ClassifyInbound(text string) Result {
	s.mu.RLock()
	patterns := s.inbound
	threshold := s.threshold
	s.mu.RUnlock()

	regexResult := Result{Verdict: Pass}
	for _, p := range patterns {
		if p.re.MatchString(text) {
			if severity(p.severity) > severity(regexResult.Verdict) {
				regexResult.Verdict = p.severity
			}
			regexResult.Patterns = append(regexResult.Patterns, p.name)
		}
	}
	if regexResult.Verdict == Block {
		regexResult.Reason = "regex match forced block"
		return regexResult
	}

	f := computeFeatures(text)
	score := f.score()
	result := regexResult
	result.Score = score

	switch {
	case score >= threshold*1.3:
		result.Verdict = Block
		result.Reason = "feature score exceeded block threshold"
	case score >= threshold:
		if severity(Flag) > severity(result.Verdict) {
			result.Verdict = Flag
		}
		result.Reason = "feature score exceeded flag threshold"
	}
	return result
}

// ClassifyOutbound applies the secret/PII catalog to text about to leave
// the host toward the agent (spec §4.3.2). Any secret match BLOCKs; a PII
// match FLAGs.
func (s *Scanner) ClassifyOutbound(text string) Result {
	s.mu.RLock()
	patterns := s.outbound
	s.mu.RUnlock()

	result := Result{Verdict: Pass}
	for _, p := range patterns {
		if p.re.MatchString(text) {
			if severity(p.severity) > severity(result.Verdict) {
				result.Verdict = p.severity
			}
			result.Patterns = append(result.Patterns, p.name)
		}
	}
	if result.Verdict != Pass {
		result.Reason = "outbound " + patternKind(result, patterns)
	}
	return result
}

func patternKind(r Result, patterns []outboundPattern) string {
	for _, name := range r.Patterns {
		for _, p := range patterns {
			if p.name == name {
				return p.kind + " match"
			}
		}
	}
	return "match"
}

// CheckCanary reports whether token leaked verbatim into output.
func (s *Scanner) CheckCanary(output, token string) bool {
	return checkCanary(output, token)
}

// WatchPatternFile hot-reloads the inbound pattern catalog whenever path
// changes on disk, so an operator can tighten or loosen detection without
// restarting the host. The reload function is supplied by the caller
// because the on-disk pattern format is owned by the config layer, not by
// the scanner itself; a reload error is logged and the previous catalog is
// kept in place.
func (s *Scanner) WatchPatternFile(path string, reload func(path string) ([]inboundPattern, error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return err
	}

	s.mu.Lock()
	s.watcher = watcher
	s.stop = make(chan struct{})
	stop := s.stop
	s.mu.Unlock()

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				patterns, err := reload(path)
				if err != nil {
					s.log.Warn("scanner: pattern reload failed, keeping previous catalog", "path", path, "error", err)
					continue
				}
				s.mu.Lock()
				s.inbound = patterns
				s.mu.Unlock()
				s.log.Info("scanner: reloaded inbound pattern catalog", "path", path, "count", len(patterns))
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.log.Warn("scanner: pattern watch error", "error", err)
			case <-stop:
				return
			}
		}
	}()
	return nil
}

// jsonInboundPattern is the on-disk shape WatchPatternFileJSON parses; a
// config-owned format kept deliberately small (name/category/severity/
// regex) so an operator can hand-edit it.
type jsonInboundPattern struct {
	Name     string `json:"name"`
	Category string `json:"category"`
	Severity string `json:"severity"` // "flag" or "block"
	Pattern  string `json:"pattern"`
}

func loadJSONPatternFile(path string) ([]inboundPattern, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw []jsonInboundPattern
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	patterns := make([]inboundPattern, 0, len(raw))
	for _, p := range raw {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.Name, err)
		}
		severity := Flag
		if strings.EqualFold(p.Severity, "block") {
			severity = Block
		}
		patterns = append(patterns, inboundPattern{name: p.Name, category: category(p.Category), severity: severity, re: re})
	}
	return patterns, nil
}

// WatchPatternFileJSON is the cmd-facing convenience wrapper for
// WatchPatternFile: it owns a small JSON pattern-file format so callers
// outside this package (cmd/gateway.go, driven by
// config.ScannerConfig.PatternFilePath) can enable hot-reload without
// reaching into the unexported inboundPattern type themselves.
func (s *Scanner) WatchPatternFileJSON(path string) error {
	if _, err := loadJSONPatternFile(path); err != nil {
		return fmt.Errorf("scanner: loading initial pattern file: %w", err)
	}
	return s.WatchPatternFile(path, loadJSONPatternFile)
}

// Close stops any active pattern-file watch.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watcher == nil {
		return nil
	}
	close(s.stop)
	err := s.watcher.Close()
	s.watcher = nil
	return err
}
