package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"WalletHub/internal/auth"
	"WalletHub/sdk/go/wallethub"

	"github.com/spf13/cobra"
)

var (
	serviceURL string
	userID     string
	token      string
	timeout    time.Duration
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// NewRootCmd 构建 wallethubctl 的根命令。
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "wallethubctl",
		Short:         "WalletHub REST API 命令行客户端",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&serviceURL, "url", getEnv("WALLETHUB_URL", "http://localhost:8080"), "WalletHub 服务地址")
	root.PersistentFlags().StringVarP(&userID, "user", "u", getEnv("WALLETHUB_USER", ""), "鉴权关闭时通过 X-User-ID 发送的用户 ID")
	root.PersistentFlags().StringVar(&token, "token", getEnv("WALLETHUB_TOKEN", ""), "jwt 模式下使用的 Bearer Token")
	root.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "单次请求超时")

	root.AddCommand(newBuildCmd(), newWorkflowsCmd(), newChainsCmd(), newTokenCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var chainID int64
	cmd := &cobra.Command{
		Use:   "build <input>",
		Short: "把自然语言请求转换为意图并生成执行预览",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			result, err := client.BuildIntent(ctx, args[0], chainID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"conversationId": result.ConversationID,
				"intentId":       result.IntentID,
				"intent":         result.Intent,
				"preview":        result.Preview,
			})
		},
	}
	cmd.Flags().Int64Var(&chainID, "chain", 0, "链 ID，0 表示由服务端决定")
	return cmd
}

func newWorkflowsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "列出已注册的工作流",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			workflows, err := client.Workflows(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), workflows)
		},
	}
}

func newChainsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chains",
		Short: "列出支持的链",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			chains, err := client.Chains(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), chains)
		},
	}
}

// newTokenCmd 在本地签发开发用 JWT，密钥需与服务端 auth.jwt.secret 一致。
func newTokenCmd() *cobra.Command {
	var (
		secret   string
		issuer   string
		audience string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "签发 HS256 访问令牌",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := auth.NewService(auth.Config{
				Mode: auth.ModeJWT,
				JWT:  auth.JWTConfig{Secret: secret, Issuer: issuer, Audience: audience},
			})
			if err != nil {
				return err
			}
			signed, err := svc.IssueToken(args[0], ttl)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	cmd.Flags().StringVar(&secret, "secret", getEnv("WALLETHUB_AUTH_JWT_SECRET", ""), "HS256 签名密钥")
	cmd.Flags().StringVar(&issuer, "issuer", getEnv("WALLETHUB_AUTH_JWT_ISSUER", ""), "iss 声明")
	cmd.Flags().StringVar(&audience, "audience", getEnv("WALLETHUB_AUTH_JWT_AUDIENCE", ""), "aud 声明")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "有效期")
	return cmd
}

func newClient() (*wallethub.Client, error) {
	client, err := wallethub.NewClient(serviceURL, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, err
	}
	if userID != "" {
		client.SetUserID(userID)
	}
	if token != "" {
		client.SetAccessToken(token)
	}
	return client, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
