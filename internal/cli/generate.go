package cli

import (
	"fmt"
	"io"

	"marketai-go/internal/generation"
	"marketai-go/internal/model"
	"marketai-go/pkg/apperr"

	"github.com/spf13/cobra"
)

var (
	genTone        string
	genSave        bool
	adsProduct     string
	adsAudience    string
	seoTopic       string
	socialDescribe string
)

// resolveTone 在本地校验 tone，--save 时与结果一起保存。
func resolveTone() (model.Tone, error) {
	tone, err := model.ParseTone(genTone)
	if err != nil {
		return "", apperr.Wrap(apperr.KindValidation, err.Error(), err)
	}
	return tone, nil
}

// saveResult 把生成结果写入历史记录。
func saveResult(cmd *cobra.Command, a *app, tool model.ToolType, input, output string, tone model.Tone) error {
	if !genSave {
		return nil
	}
	t := string(tone)
	item, err := a.history.Add(cmd.Context(), tool, input, output, &t)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "\n%s %s\n", successStyle.Render("Saved to history"), idStyle.Render(item.ID))
	return nil
}

func printList(w io.Writer, title string, items []string) {
	fmt.Fprintln(w, headerStyle.Render(title))
	for i, item := range items {
		fmt.Fprintf(w, "%s %s\n", countStyle.Render(fmt.Sprintf("%d.", i+1)), item)
	}
}

var adsCmd = &cobra.Command{
	Use:   "ads",
	Short: "Generate Google Ads headlines and descriptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tone, err := resolveTone()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		res, err := a.api.GenerateAds(cmd.Context(), model.AdsRequest{
			ProductDescription: adsProduct,
			TargetAudience:     adsAudience,
			Tone:               string(tone),
		})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printList(out, "Headlines", res.Headlines)
		fmt.Fprintln(out)
		printList(out, "Descriptions", res.Descriptions)

		text := generation.FormatAdCopy(model.AdCopy{Headlines: res.Headlines, Descriptions: res.Descriptions})
		return saveResult(cmd, a, model.ToolAds, adsProduct, text, tone)
	},
}

var seoCmd = &cobra.Command{
	Use:   "seo",
	Short: "Generate SEO keywords with volume and difficulty",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tone, err := resolveTone()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		res, err := a.api.GenerateSEO(cmd.Context(), model.SEORequest{Topic: seoTopic, Tone: string(tone)})
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, headerStyle.Render("Keywords"))
		for _, kw := range res.Keywords {
			fmt.Fprintf(out, "%s  %s\n", titleStyle.Render(kw.Keyword),
				dateStyle.Render(fmt.Sprintf("volume %s, difficulty %s", kw.Volume, kw.Difficulty)))
		}
		return saveResult(cmd, a, model.ToolSEO, seoTopic, generation.FormatKeywords(res.Keywords), tone)
	},
}

var socialCmd = &cobra.Command{
	Use:   "social",
	Short: "Generate social media captions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tone, err := resolveTone()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()
		if err := a.requireSession(); err != nil {
			return err
		}

		res, err := a.api.GenerateSocial(cmd.Context(), model.SocialRequest{Description: socialDescribe, Tone: string(tone)})
		if err != nil {
			return err
		}
		printList(cmd.OutOrStdout(), "Captions", res.CaptionList)
		return saveResult(cmd, a, model.ToolSocial, socialDescribe, generation.FormatCaptions(res.CaptionList), tone)
	},
}

func init() {
	for _, c := range []*cobra.Command{adsCmd, seoCmd, socialCmd} {
		c.Flags().StringVarP(&genTone, "tone", "t", string(model.DefaultTone), "Tone (professional, friendly, sales, creative, casual)")
		c.Flags().BoolVar(&genSave, "save", false, "Save the result to history")
	}
	adsCmd.Flags().StringVarP(&adsProduct, "product", "p", "", "Product or service description")
	adsCmd.Flags().StringVarP(&adsAudience, "audience", "a", "", "Target audience (optional)")
	_ = adsCmd.MarkFlagRequired("product")
	seoCmd.Flags().StringVar(&seoTopic, "topic", "", "Topic to research")
	_ = seoCmd.MarkFlagRequired("topic")
	socialCmd.Flags().StringVarP(&socialDescribe, "description", "d", "", "What the post is about")
	_ = socialCmd.MarkFlagRequired("description")

	rootCmd.AddCommand(adsCmd, seoCmd, socialCmd)
}
