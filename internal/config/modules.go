package config

import (
	_ "github.com/any-hub/any-asset/internal/decoder/img"
	_ "github.com/any-hub/any-asset/internal/decoder/raw"
)
