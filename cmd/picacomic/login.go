package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Log in and store the auth token in the config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		token, err := controller.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}

		doc := controller.GetConfig()
		doc.Token = token
		if err := controller.SaveConfig(doc); err != nil {
			return err
		}
		fmt.Println("Logged in, token saved.")
		return nil
	},
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Show the logged-in user's profile",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		profile, err := controller.GetUserProfile(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("%s (level %d, exp %d)\n", profile.Name, profile.Level, profile.Exp)
		if profile.Title != "" {
			fmt.Printf("Title: %s\n", profile.Title)
		}
		fmt.Printf("Email: %s\n", profile.Email)
		return nil
	},
}
