package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wantee/connlm-go/pkg/vocab"
)

func newVocabCmd(gf *globalFlags) *cobra.Command {
	var (
		textFile    string
		outFile     string
		maxWords    int
		sentEndWord string
		unkWord     string
	)

	cmd := &cobra.Command{
		Use:   "vocab",
		Short: "Learn a vocabulary from a text corpus",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := resolveConfig(cmd, gf, nil); err != nil {
				return err
			}
			if textFile == "" {
				return fmt.Errorf("--text is required")
			}
			if outFile == "" {
				return fmt.Errorf("--out is required")
			}

			in, err := os.Open(textFile)
			if err != nil {
				return fmt.Errorf("opening %s: %w", textFile, err)
			}
			defer in.Close()

			v := vocab.New(sentEndWord, unkWord)
			if err := v.Learn(in, maxWords); err != nil {
				return fmt.Errorf("learning vocabulary: %w", err)
			}

			out, err := os.Create(outFile)
			if err != nil {
				return fmt.Errorf("creating %s: %w", outFile, err)
			}
			defer out.Close()
			if err := writeVocabText(out, v); err != nil {
				return fmt.Errorf("writing %s: %w", outFile, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "learned %d words (including reserved) from %s\n", v.Size(), textFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&textFile, "text", "", "Path to the training text corpus")
	cmd.Flags().StringVar(&outFile, "out", "", "Path to write the vocabulary text file")
	cmd.Flags().IntVar(&maxWords, "max-words", 0, "Stop reading the corpus after this many tokens (0 = read all of it)")
	cmd.Flags().StringVar(&sentEndWord, "sent-end", "</s>", "Spelling of the sentence-end token")
	cmd.Flags().StringVar(&unkWord, "unk", "<unk>", "Spelling of the unknown-word token")
	return cmd
}

// writeVocabText writes one "word\tcount" line per id, in id order, so the
// file round-trips through vocab.FromParts via readVocabText.
func writeVocabText(w *os.File, v *vocab.Vocab) error {
	for _, word := range v.Words() {
		id := v.GetID(word)
		if _, err := fmt.Fprintf(w, "%s\t%d\n", word, v.Count(id)); err != nil {
			return err
		}
	}
	return nil
}
