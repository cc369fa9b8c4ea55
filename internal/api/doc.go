// Package api 暴露 WalletHub 的 REST 接口：意图预览、工作流目录、链列表、健康检查与指标。
package api
