package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Format expressions shared by several platforms.
const (
	FormatHighest = "best[height>=1440][ext=mp4]/best[height>=1080][ext=mp4]/best[height>=720][ext=mp4]/best[ext=mp4]/best"
	FormatSocial  = "best[height>=720][height<=1080][ext=mp4]/best[height>=720][ext=mp4]/best[height>=720]/best[ext=mp4]/best"
	FormatEmbed   = "best[height>=720][ext=mp4]/best[ext=mp4]/best"
)

// PlatformConfig is the download policy applied to one platform.
type PlatformConfig struct {
	// Platform is the id the policy was resolved for; Unknown for the base.
	Platform ID `yaml:"-" json:"-"`

	Format             string        `yaml:"format" json:"format"`
	OutputTemplate     string        `yaml:"output_template" json:"output_template"`
	CookieFile         string        `yaml:"cookie_file" json:"cookie_file,omitempty"`
	Retries            int           `yaml:"retries" json:"retries"`
	FragmentRetries    int           `yaml:"fragment_retries" json:"fragment_retries"`
	FileAccessRetries  int           `yaml:"file_access_retries" json:"file_access_retries"`
	ExtractorRetries   int           `yaml:"extractor_retries" json:"extractor_retries,omitempty"`
	ChunkSize          int64         `yaml:"chunk_size" json:"chunk_size"`
	WriteInfoJSON      bool          `yaml:"write_info_json" json:"write_info_json"`
	WriteDescription   bool          `yaml:"write_description" json:"write_description"`
	WriteSubtitles     bool          `yaml:"write_subtitles" json:"write_subtitles"`
	WriteAutoSubtitles bool          `yaml:"write_auto_subtitles" json:"write_auto_subtitles"`
	MergeOutputFormat  string        `yaml:"merge_output_format" json:"merge_output_format"`
	RecodeVideo        string        `yaml:"recode_video" json:"recode_video,omitempty"`
	ExtractDelay       time.Duration `yaml:"extract_delay" json:"extract_delay,omitempty"`
}

// Override patches a PlatformConfig; nil fields are left untouched.
type Override struct {
	Format             *string        `yaml:"format"`
	OutputTemplate     *string        `yaml:"output_template"`
	CookieFile         *string        `yaml:"cookie_file"`
	Retries            *int           `yaml:"retries"`
	FragmentRetries    *int           `yaml:"fragment_retries"`
	FileAccessRetries  *int           `yaml:"file_access_retries"`
	ExtractorRetries   *int           `yaml:"extractor_retries"`
	ChunkSize          *int64         `yaml:"chunk_size"`
	WriteInfoJSON      *bool          `yaml:"write_info_json"`
	WriteDescription   *bool          `yaml:"write_description"`
	WriteSubtitles     *bool          `yaml:"write_subtitles"`
	WriteAutoSubtitles *bool          `yaml:"write_auto_subtitles"`
	MergeOutputFormat  *string        `yaml:"merge_output_format"`
	RecodeVideo        *string        `yaml:"recode_video"`
	ExtractDelay       *time.Duration `yaml:"extract_delay"`
}

// Apply returns c with the non-nil fields of o applied.
func (o Override) Apply(c PlatformConfig) PlatformConfig {
	setString(&c.Format, o.Format)
	setString(&c.OutputTemplate, o.OutputTemplate)
	setString(&c.CookieFile, o.CookieFile)
	setInt(&c.Retries, o.Retries)
	setInt(&c.FragmentRetries, o.FragmentRetries)
	setInt(&c.FileAccessRetries, o.FileAccessRetries)
	setInt(&c.ExtractorRetries, o.ExtractorRetries)
	if o.ChunkSize != nil {
		c.ChunkSize = *o.ChunkSize
	}
	setBool(&c.WriteInfoJSON, o.WriteInfoJSON)
	setBool(&c.WriteDescription, o.WriteDescription)
	setBool(&c.WriteSubtitles, o.WriteSubtitles)
	setBool(&c.WriteAutoSubtitles, o.WriteAutoSubtitles)
	setString(&c.MergeOutputFormat, o.MergeOutputFormat)
	setString(&c.RecodeVideo, o.RecodeVideo)
	if o.ExtractDelay != nil {
		c.ExtractDelay = *o.ExtractDelay
	}
	return c
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func ptr[T any](v T) *T { return &v }

// BaseConfig is the policy of every platform before overrides.
func BaseConfig() PlatformConfig {
	return PlatformConfig{
		Format:            FormatHighest,
		OutputTemplate:    "%(title)s.%(ext)s",
		Retries:           5,
		FragmentRetries:   5,
		FileAccessRetries: 5,
		ChunkSize:         10 * 1024 * 1024,
		WriteInfoJSON:     true,
		WriteDescription:  true,
		MergeOutputFormat: "mp4",
	}
}

const socialDelay = 500 * time.Millisecond

// builtinOverrides returns the per-platform patches over BaseConfig.
// Cookie paths are relative to cookiesDir.
func builtinOverrides(cookiesDir string) map[ID]Override {
	cookie := func(name string) *string { return ptr(filepath.Join(cookiesDir, name)) }
	social := func(o Override) Override {
		o.Format = ptr(FormatSocial)
		return o
	}
	embed := Override{Format: ptr(FormatEmbed), ExtractorRetries: ptr(5)}

	return map[ID]Override{
		YouTube: social(Override{
			WriteSubtitles:     ptr(true),
			WriteAutoSubtitles: ptr(true),
			CookieFile:         cookie("cookies.txt"),
		}),
		Instagram:   social(Override{CookieFile: cookie("instagram_cookies.txt"), ExtractDelay: ptr(socialDelay)}),
		Facebook:    social(Override{CookieFile: cookie("instagram_cookies.txt"), ExtractDelay: ptr(socialDelay)}),
		Twitter:     social(Override{ExtractDelay: ptr(socialDelay)}),
		Dailymotion: social(Override{}),
		Vimeo:       social(Override{CookieFile: cookie("vimeo_cookies.txt")}),
		Pinterest:   social(Override{}),
		Reddit:      social(Override{}),
		TikTok:      social(Override{CookieFile: cookie("instagram_cookies.txt"), ExtractDelay: ptr(socialDelay)}),
		Snapchat:    social(Override{}),
		Twitch:      social(Override{}),
		Rumble: {
			WriteSubtitles:   ptr(true),
			RecodeVideo:      ptr("mp4"),
			ExtractorRetries: ptr(5),
		},
		DirectURL: {
			Format:            ptr("best"),
			WriteInfoJSON:     ptr(false),
			WriteDescription:  ptr(false),
			WriteSubtitles:    ptr(false),
			RecodeVideo:       ptr("mp4"),
			Retries:           ptr(10),
			FragmentRetries:   ptr(10),
			FileAccessRetries: ptr(10),
		},
		DeadToons:   embed,
		CyberVynx:   embed,
		VOE:         embed,
		FileMoon:    embed,
		NewerStream: embed,
		ShortIcu:    embed,
		SmoothPre:   embed,
	}
}

// OverrideFile is the YAML layout of platforms.overrides_file.
type OverrideFile struct {
	Base      Override        `yaml:"base"`
	Platforms map[ID]Override `yaml:"platforms"`
}

// Registry resolves a platform id to its PlatformConfig. It is built once
// and read-only afterwards.
type Registry struct {
	base    PlatformConfig
	configs map[ID]PlatformConfig
}

// NewRegistry builds the table from BaseConfig, the built-in overrides and
// the optional file overrides. A base patch from the file applies to every
// platform; platform patches apply last.
func NewRegistry(cookiesDir string, file *OverrideFile) *Registry {
	if file == nil {
		file = &OverrideFile{}
	}
	base := file.Base.Apply(BaseConfig())

	r := &Registry{base: base, configs: make(map[ID]PlatformConfig)}
	for id, o := range builtinOverrides(cookiesDir) {
		r.configs[id] = o.Apply(base)
	}
	for id, o := range file.Platforms {
		cfg, ok := r.configs[id]
		if !ok {
			cfg = base
		}
		r.configs[id] = o.Apply(cfg)
	}
	return r
}

// LoadRegistry builds a registry, reading overrides from path when set.
// A positive chunkSize becomes the base chunk size unless the file sets one.
func LoadRegistry(cookiesDir, path string, chunkSize int64) (*Registry, error) {
	file := &OverrideFile{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("platform: read overrides: %w", err)
		}
		if file, err = ParseOverrides(data); err != nil {
			return nil, err
		}
	}
	if file.Base.ChunkSize == nil && chunkSize > 0 {
		file.Base.ChunkSize = &chunkSize
	}
	return NewRegistry(cookiesDir, file), nil
}

// ParseOverrides decodes an override file.
func ParseOverrides(data []byte) (*OverrideFile, error) {
	var file OverrideFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("platform: parse overrides: %w", err)
	}
	return &file, nil
}

// Config returns the policy of id, or the base policy for an unlisted id.
func (r *Registry) Config(id ID) PlatformConfig {
	cfg, ok := r.configs[id]
	if !ok {
		cfg = r.base
	}
	cfg.Platform = id
	return cfg
}

// Base returns the base policy.
func (r *Registry) Base() PlatformConfig {
	return r.base
}
