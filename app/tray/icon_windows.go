package tray

import _ "embed"

//go:embed assets/icon.ico
var iconData []byte

//go:embed assets/icon_error.ico
var errorIconData []byte
