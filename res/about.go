// Package res holds static text resources shown by the UI.
package res

// AboutContent contains the Markdown content for the About dialog.
const AboutContent = `An audio practice player for musicians.

Open a recording, mark a passage with an A/B loop and slow it down or
transpose it without changing the other.

**Formats:** WAV, AIFF, CAF, FLAC, MP3, Ogg Vorbis, Ogg Opus, Matroska/WebM.
`

// ShortcutsContent lists the keyboard bindings in Markdown.
const ShortcutsContent = `| Key | Action |
|---|---|
| Space | Play / pause |
| [ and ] | Set loop start / end at the cursor |
| Shift+[ and Shift+] | Clear loop start / end |
| C | Clear loop |
| 0 or Home | Back to the start |
| 1 to 9 | Back by that many seconds |
| Left / Right | Skip 5 seconds |
| Ctrl+Left / Ctrl+Right | Shift the loop by its width |
| Ctrl-drag a marker | Move the whole loop |
| R | Reset speed and pitch |
| Q or Esc | Quit |
| Ctrl+O | Open a file |
`
