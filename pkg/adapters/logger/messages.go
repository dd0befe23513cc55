package logger

import "github.com/ideamans/go-l10n"

func init() {
	l10n.Register("ja", l10n.LexiconMap{
		// Session level messages (info)
		"Opening %s":                       "%s を開いています",
		"Session %s started":               "セッション %s を開始しました",
		"Container %s, duration %s":        "コンテナ %s, 再生時間 %s",
		"Video stream: %s %dx%d":           "映像ストリーム: %s %dx%d",
		"Audio stream: %s %d Hz, %d channels": "音声ストリーム: %s %d Hz, %d チャンネル",
		"End of stream":                    "ストリームの終端に達しました",
		"Playback finished: %d frames presented, %d dropped": "再生終了: %d フレーム表示, %d フレーム破棄",
		"Interrupted, shutting down...":    "中断されました。シャットダウン中...",
		"Summary saved to %s":              "サマリーを %s に保存しました",

		// Decoder selection
		"Using HW decoder %s for %s":             "%[2]s にハードウェアデコーダー %[1]s を使用します",
		"No HW decoder, using software for %s":   "ハードウェアデコーダーがありません。%s にソフトウェアを使用します",
		"HW decoder %s failed, falling back to software: %s": "ハードウェアデコーダー %s が失敗しました。ソフトウェアに切り替えます: %s",

		// Seek
		"Seeking to %.1f%%":                "%.1f%% へシーク中",
		"Seek to %s landed at %s":          "%s へのシークは %s に着地しました",
		"Seek failed: %s":                  "シークに失敗しました: %s",

		// Warnings
		"Skipping undecodable packet: %s":  "デコードできないパケットをスキップします: %s",
		"Audio device stalled, dropping audio": "音声デバイスが停止しています。音声を破棄します",
		"Audio decoder failed: %s":          "音声デコーダーが失敗しました: %s",
		"Ignoring audio stream %d without sample format": "サンプル形式のない音声ストリーム %d を無視します",
		"Ignoring input %q: expected a percentage or q":  "入力 %q を無視します: パーセントまたは q を入力してください",
		"Audio device stopped: %s":         "音声デバイスが停止しました: %s",

		// Errors
		"Failed to open %s: %s":            "%s を開けませんでした: %s",
		"Failed to create window: %s":      "ウィンドウを作成できませんでした: %s",
		"Failed to initialize audio: %s":   "音声を初期化できませんでした: %s",
		"Failed to write summary: %s":      "サマリーを書き込めませんでした: %s",
	})
}
