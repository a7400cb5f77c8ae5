//go:build !windows

package tray

import _ "embed"

//go:embed assets/icon.png
var iconData []byte

//go:embed assets/icon_error.png
var errorIconData []byte
