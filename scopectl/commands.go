package main

import (
	"context"
	"fmt"
	"net/mail"
	"os"
	"time"

	"github.com/gravitational/trace"
	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/scopewatch/scopewatch-client/auth"
	"github.com/scopewatch/scopewatch-client/auth/storage"
	"github.com/scopewatch/scopewatch-client/lib"
	"github.com/scopewatch/scopewatch-client/lib/logger"
	"github.com/tidwall/gjson"
)

func newSessionManager(ctx context.Context, conf *Config, store storage.Store) (*auth.SessionManager, error) {
	refreshBuffer, err := conf.Session.refreshBuffer()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	monitorInterval, err := conf.Session.monitorInterval()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	manager, err := auth.NewSessionManager(ctx, auth.Config{
		Store:           store,
		BaseURL:         conf.API.BaseURL,
		RefreshBuffer:   refreshBuffer,
		MonitorInterval: monitorInterval,
	})
	return manager, trace.Wrap(err)
}

func login(configPath string) error {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := logger.Setup(conf.Log); err != nil {
		return err
	}

	emailPrompt := promptui.Prompt{
		Label: "Email",
		Validate: func(input string) error {
			addr, err := mail.ParseAddress(input)
			if err != nil || addr.Address != input {
				return trace.BadParameter("not an email address")
			}
			return nil
		},
	}
	email, err := emailPrompt.Run()
	if err != nil {
		return trace.Wrap(err)
	}

	passwordPrompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
	}
	password, err := passwordPrompt.Run()
	if err != nil {
		return trace.Wrap(err)
	}

	ctx := context.Background()
	manager, err := newSessionManager(ctx, conf, storage.NewDiskStore(conf.Storage.Dir))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := manager.Login(ctx, email, password); err != nil {
		return trace.Wrap(err)
	}

	user, err := manager.CurrentUser()
	if err != nil {
		fmt.Println("Signed in")
		return nil
	}
	fmt.Printf("Signed in as %s\n", gjson.Get(user, "email").String())
	return nil
}

func logout(configPath string) error {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := logger.Setup(conf.Log); err != nil {
		return err
	}

	manager, err := newSessionManager(context.Background(), conf, storage.NewDiskStore(conf.Storage.Dir))
	if err != nil {
		return trace.Wrap(err)
	}
	if err := manager.Logout(); err != nil {
		return trace.Wrap(err)
	}
	fmt.Println("Signed out")
	return nil
}

func status(configPath string) error {
	conf, err := LoadConfig(configPath)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := logger.Setup(conf.Log); err != nil {
		return err
	}

	ctx := context.Background()
	store := storage.NewDiskStore(conf.Storage.Dir)
	manager, err := newSessionManager(ctx, conf, store)
	if err != nil {
		return trace.Wrap(err)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.SetAutoWrapText(false)

	authenticated := manager.Authenticated()
	table.Append([]string{"Signed in", fmt.Sprintf("%v", authenticated)})

	if user, err := manager.CurrentUser(); err == nil {
		table.Append([]string{"User", gjson.Get(user, "email").String()})
		if org := gjson.Get(user, "org.name"); org.Exists() {
			table.Append([]string{"Organization", org.String()})
		}
	}

	if accessToken, err := store.Get(storage.AccessTokenKey); err == nil && accessToken != "" {
		if claims, err := auth.DecodeClaims(accessToken); err == nil {
			table.Append([]string{"Token expires", claims.ExpiresAt.Format(time.RFC3339)})
		} else {
			table.Append([]string{"Token expires", "malformed token"})
		}
	}

	if authenticated {
		client := auth.NewHTTPClient(manager, conf.API.BaseURL)
		var st serverStatus
		resp, err := client.R().SetContext(ctx).SetResult(&st).Get("/status")
		switch {
		case err != nil:
			table.Append([]string{"Server", fmt.Sprintf("unreachable: %v", err)})
		case !resp.IsSuccess():
			table.Append([]string{"Server", fmt.Sprintf("returned %v", resp.Status())})
		default:
			table.Append([]string{"Server", st.Version})
			if st.MinClientVersion != "" {
				if err := lib.AssertClientVersion(st.MinClientVersion, Version); err != nil {
					table.Append([]string{"Compatibility", err.Error()})
				} else {
					table.Append([]string{"Compatibility", "ok"})
				}
			}
		}
	}

	table.Render()
	return nil
}
