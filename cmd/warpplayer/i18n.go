// Package main provides localization for the warpplayer CLI.
package main

import (
	"github.com/ideamans/go-l10n"
)

func init() {
	// Register Japanese translations for CLI messages.
	l10n.Register("ja", l10n.LexiconMap{
		// Root command
		"Play a media file with audio-synchronized video.": "音声に同期した映像でメディアファイルを再生します。",

		// Runtime messages
		"Interrupted, shutting down...": "中断されました。シャットダウン中...",
		"Playback failed: %s":           "再生に失敗しました: %s",

		// Summary content
		"Playback Summary": "再生サマリー",
		"Generated At":     "生成日時",
		"Session":          "セッション",
		"Item":             "項目",
		"Value":            "値",
		"Source":           "入力",
		"File":             "ファイル",
		"Container":        "コンテナ",
		"File Size":        "ファイルサイズ",
		"Duration":         "再生時間",
		"Streams":          "ストリーム",
		"Video":            "映像",
		"Video Decoder":    "映像デコーダー",
		"Audio":            "音声",
		"Audio Decoder":    "音声デコーダー",
		"None":             "なし",
		"N/A":              "N/A",

		// Playback section
		"Playback":          "再生",
		"Frames Presented":  "表示フレーム数",
		"Frames Dropped":    "破棄フレーム数",
		"Seeks":             "シーク回数",
		"Failed Seeks":      "失敗したシーク",
		"Skipped Packets":   "スキップしたパケット",
		"Audio Underruns":   "音声アンダーラン",
		"Audio Overflows":   "音声オーバーフロー",
		"Drift Corrections": "ドリフト補正回数",
		"Last Position":     "最終位置",
		"Wall Time":         "実時間",
		"Stopped By":        "停止理由",
		"end of stream":     "ストリーム終端",
		"window closed":     "ウィンドウを閉じた",
		"cancelled":         "キャンセル",

		// Settings section
		"Settings":              "設定",
		"Hardware Acceleration": "ハードウェアアクセラレーション",
		"Audio Output":          "音声出力",
		"Presentation":          "表示方式",
		"Cadence":               "表示間隔",
		"Late Drop":             "遅延破棄しきい値",
		"Drift Correction":      "ドリフト補正",
		"On":                    "オン",
		"Off":                   "オフ",
		"Generated by":          "生成:",
	})
}
