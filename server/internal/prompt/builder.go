package prompt

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/ahmadbasyouni10/knowledge.ai/server/internal/model"
)

//go:embed templates/*.tmpl
var builtin embed.FS

// Builder 根据会话配置拼装系统指令、反馈指令与开场白。
// 模板内容视为配置：内置一份默认模板，可用目录中的同名 .tmpl 覆盖。
type Builder struct {
	templates *template.Template
}

// 模板名
const (
	tmplSystemDesign    = "system_design"
	tmplCoding          = "coding"
	tmplFrontend        = "frontend"
	tmplBackend         = "backend"
	tmplMock            = "mock"
	tmplTopic           = "topic"
	tmplQA              = "qa"
	tmplLanguage        = "language"
	tmplFeedback        = "feedback"
	tmplFeedbackRequest = "feedback_request"
)

var funcs = template.FuncMap{"upper": strings.ToUpper}

// NewBuilder 加载内置模板；overrideDir 非空时用其中的 <name>.tmpl 覆盖。
func NewBuilder(overrideDir string) (*Builder, error) {
	root := template.New("prompts").Funcs(funcs)
	entries, err := builtin.ReadDir("templates")
	if err != nil {
		return nil, fmt.Errorf("read builtin templates: %w", err)
	}
	for _, e := range entries {
		data, err := builtin.ReadFile("templates/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("read builtin template %s: %w", e.Name(), err)
		}
		if _, err := root.New(strings.TrimSuffix(e.Name(), ".tmpl")).Parse(string(data)); err != nil {
			return nil, fmt.Errorf("parse builtin template %s: %w", e.Name(), err)
		}
	}

	if overrideDir != "" {
		files, err := os.ReadDir(overrideDir)
		if err != nil {
			return nil, fmt.Errorf("read prompts dir: %w", err)
		}
		for _, f := range files {
			if f.IsDir() || filepath.Ext(f.Name()) != ".tmpl" {
				continue
			}
			data, err := os.ReadFile(filepath.Join(overrideDir, f.Name()))
			if err != nil {
				return nil, fmt.Errorf("read prompt %s: %w", f.Name(), err)
			}
			if _, err := root.New(strings.TrimSuffix(f.Name(), ".tmpl")).Parse(string(data)); err != nil {
				return nil, fmt.Errorf("parse prompt %s: %w", f.Name(), err)
			}
		}
	}
	return &Builder{templates: root}, nil
}

// values 是模板可见的字段
type values struct {
	Topic          string
	Company        string
	Experience     string
	SystemToDesign string
	AvoidCoding    bool
	FocusGraphs    bool
	Category       string
	Difficulty     string
	Topics         string
	Format         string
	Language       string
	Mode           string
	Prompt         string
	Focus          string
	Variant        string
}

// SystemInstructions 返回回复请求使用的系统指令。
// 面试官备注与重点领域只出现在指令尾部，不会进入对用户可见的任何内容。
func (b *Builder) SystemInstructions(cfg model.SessionConfig) (string, error) {
	name, v := b.resolve(cfg)
	out, err := b.render(name, v)
	if err != nil {
		return "", err
	}

	if notes := strings.TrimSpace(cfg.Notes); notes != "" {
		out += "\n\nADDITIONAL CONTEXT (DO NOT MENTION DIRECTLY): " + notes + "\n"
	}
	if mock, ok := cfg.Details.(model.MockConfig); ok && len(mock.FocusAreas) > 0 {
		out += "\n\nFOCUS AREAS (PRIORITIZE THESE TOPICS): " + strings.Join(mock.FocusAreas, ", ") + "\n"
	}
	return out, nil
}

// FeedbackInstructions 返回反馈请求的系统指令和追加在历史末尾的用户请求。
func (b *Builder) FeedbackInstructions(cfg model.SessionConfig) (system, request string, err error) {
	name, v := b.resolve(cfg)
	v.Variant = name
	if system, err = b.render(tmplFeedback, v); err != nil {
		return "", "", err
	}
	if request, err = b.render(tmplFeedbackRequest, v); err != nil {
		return "", "", err
	}
	return system, request, nil
}

// Introduction 会话开场白，按类型区分。
func (b *Builder) Introduction(cfg model.SessionConfig) string {
	topic := cfg.Topic
	switch d := cfg.Details.(type) {
	case model.TopicConfig:
		return fmt.Sprintf("Welcome to your lecture on %s. I'll start with an overview and then we'll dive into the details. Feel free to ask questions at any point.", topic)
	case model.QAConfig:
		return fmt.Sprintf("Welcome to your Q&A session on %s. I'll be testing your knowledge with a series of questions. Let's see how much you know about %s!", topic, topic)
	case model.LanguageConfig:
		return fmt.Sprintf("Bonjour! Welcome to your language practice session. Today we'll be practicing %s. I'll speak in the language we're practicing, and you can respond to improve your skills.", topic)
	case model.MockConfig:
		role := firstNonEmpty(d.Role, topic)
		company := firstNonEmpty(d.Company, "a company")
		experience := "this role"
		switch d.Experience {
		case "entry":
			experience = "entry-level positions (0-2 years)"
		case "mid":
			experience = "mid-level positions (3-5 years)"
		case "senior":
			experience = "senior positions (6+ years)"
		}
		intro := fmt.Sprintf("Welcome to your mock interview for the %s position at %s. I'll be your interviewer today. I'll ask you questions related to %s and your experience with %s.", role, company, topic, experience)
		if d.SpecificSkills != "" {
			intro += fmt.Sprintf(" I'll focus particularly on your skills with %s.", d.SpecificSkills)
		}
		return intro + " Let's begin!"
	default:
		return fmt.Sprintf("Great! Let's start our interview about %s. I'll ask you some questions about %s and you can respond either by speaking or typing your answers.", topic, topic)
	}
}

// resolve 选择模板并准备字段，四种会话类型必须全部覆盖。
func (b *Builder) resolve(cfg model.SessionConfig) (string, values) {
	v := values{Topic: cfg.Topic}
	switch d := cfg.Details.(type) {
	case model.TopicConfig:
		v.Category = d.Category
		v.Difficulty = firstNonEmpty(d.Difficulty, "beginner")
		v.Focus = "topic lecture"
		return tmplTopic, v
	case model.QAConfig:
		v.Difficulty = firstNonEmpty(d.Difficulty, "moderate")
		v.Topics = d.Topics
		v.Format = firstNonEmpty(d.Format, "practice")
		v.Focus = "Q&A"
		return tmplQA, v
	case model.LanguageConfig:
		v.Language = d.Language
		v.Mode = d.Mode
		v.Prompt = d.Prompt
		v.Focus = "language practice"
		return tmplLanguage, v
	case model.MockConfig:
		return mockTemplate(d, cfg.Notes, v)
	default:
		return mockTemplate(model.MockConfig{}, cfg.Notes, v)
	}
}

func mockTemplate(d model.MockConfig, notes string, v values) (string, values) {
	signals := strings.ToLower(strings.Join(d.FocusAreas, ",") + " " + d.SpecificSkills + " " + notes)
	lowerNotes := strings.ToLower(notes)

	v.Company = d.Company
	v.AvoidCoding = containsAny(lowerNotes, "avoid coding", "no code", "don't ask to code", "verbal only")
	v.FocusGraphs = containsAny(signals, "graph", "tree", "dfs", "bfs")
	switch d.Experience {
	case "entry":
		v.Experience = "entry-level"
	case "senior":
		v.Experience = "senior"
	default:
		v.Experience = "mid-level"
	}

	name := tmplMock
	switch {
	case d.InterviewType == "system-design":
		name = tmplSystemDesign
	case d.InterviewType == "coding":
		name = tmplCoding
	case d.InterviewType == "frontend":
		name = tmplFrontend
	case d.InterviewType == "backend":
		name = tmplBackend
	case containsAny(signals, "system design", "architecture", "scalability"):
		name = tmplSystemDesign
	case containsAny(signals, "coding", "algorithm", "leetcode"):
		name = tmplCoding
	case containsAny(signals, "front-end", "frontend", "react"):
		name = tmplFrontend
	case containsAny(signals, "back-end", "backend", "database"):
		name = tmplBackend
	}

	switch name {
	case tmplSystemDesign:
		v.SystemToDesign = d.SpecificSkills
		v.Focus = "system design interview"
	case tmplCoding:
		v.Focus = "coding interview"
	case tmplFrontend:
		v.Focus = "front-end development interview"
	case tmplBackend:
		v.Focus = "back-end development interview"
	default:
		v.Focus = "mock interview"
	}
	return name, v
}

func (b *Builder) render(name string, v values) (string, error) {
	var buf bytes.Buffer
	if err := b.templates.ExecuteTemplate(&buf, name, v); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
