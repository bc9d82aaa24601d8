// collabd はリアルタイムコラボレーションサーバーのエントリーポイント。
//
// サブコマンド:
//
//	serve       コラボレーションサーバーを起動する（デフォルト）
//	migrate     データベースマイグレーションを実行する
//	healthcheck ヘルスチェックを実行する（Dockerヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/siteforge/collab/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "collabd: %v\n", err)
		os.Exit(1)
	}
}
